package iso8583

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// MinField is the lowest data field; field 1 only announces the
	// secondary bitmap.
	MinField = 2
	// MaxField is the highest field addressable with a secondary bitmap.
	MaxField = 128
)

// DataClass is the coarse content classifier of a field.
type DataClass string

const (
	ClassNumeric       DataClass = "numeric"
	ClassSignedNumeric DataClass = "signed-numeric"
	ClassAlphanumeric  DataClass = "alphanumeric"
	ClassBinary        DataClass = "binary"
	ClassTrack         DataClass = "track"
)

func (c DataClass) valid() bool {
	switch c {
	case ClassNumeric, ClassSignedNumeric, ClassAlphanumeric, ClassBinary, ClassTrack:
		return true
	}
	return false
}

// FieldDefinition describes one data element of the protocol.
//
// For variable fields MaxLength bounds the value, not the length prefix.
// PrefixDigits selects LLVAR (2) or LLLVAR (3) framing; zero derives it from
// MaxLength.
type FieldDefinition struct {
	Number       int       `json:"number" yaml:"number"`
	Description  string    `json:"description" yaml:"description"`
	MaxLength    int       `json:"maxLength" yaml:"maxLength"`
	Variable     bool      `json:"variable" yaml:"variable"`
	Class        DataClass `json:"class" yaml:"class"`
	PrefixDigits int       `json:"prefixDigits,omitempty" yaml:"prefixDigits,omitempty"`
}

// LengthPrefixDigits reports how many decimal digits precede the value of a
// variable field. Fixed fields have no prefix.
func (d FieldDefinition) LengthPrefixDigits() int {
	if !d.Variable {
		return 0
	}
	if d.PrefixDigits > 0 {
		return d.PrefixDigits
	}
	if d.MaxLength > 99 {
		return 3
	}
	return 2
}

func (d FieldDefinition) validate() error {
	if d.Number < MinField || d.Number > MaxField {
		return fmt.Errorf("field number %d out of range %d-%d", d.Number, MinField, MaxField)
	}
	if d.MaxLength <= 0 {
		return fmt.Errorf("field %d: maxLength must be positive", d.Number)
	}
	if !d.Class.valid() {
		return fmt.Errorf("field %d: unknown class %q", d.Number, d.Class)
	}
	if !d.Variable {
		if d.PrefixDigits != 0 {
			return fmt.Errorf("field %d: prefixDigits set on fixed field", d.Number)
		}
		return nil
	}
	switch d.PrefixDigits {
	case 0:
		if d.MaxLength > 999 {
			return fmt.Errorf("field %d: maxLength %d cannot be framed", d.Number, d.MaxLength)
		}
	case 2:
		if d.MaxLength > 99 {
			return fmt.Errorf("field %d: maxLength %d needs a 3 digit prefix", d.Number, d.MaxLength)
		}
	case 3:
		if d.MaxLength > 999 {
			return fmt.Errorf("field %d: maxLength %d cannot be framed", d.Number, d.MaxLength)
		}
	default:
		return fmt.Errorf("field %d: prefixDigits must be 2 or 3", d.Number)
	}
	return nil
}

// Catalog is a read-only table of field definitions keyed by field number.
type Catalog struct {
	name string
	defs map[int]FieldDefinition
}

// NewCatalog validates defs and builds a catalog from them.
func NewCatalog(name string, defs []FieldDefinition) (*Catalog, error) {
	c := &Catalog{name: strings.TrimSpace(name), defs: make(map[int]FieldDefinition, len(defs))}
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, exists := c.defs[d.Number]; exists {
			return nil, fmt.Errorf("duplicate field %d", d.Number)
		}
		d.Description = strings.TrimSpace(d.Description)
		c.defs[d.Number] = d
	}
	if len(c.defs) == 0 {
		return nil, errors.New("catalog defines no fields")
	}
	return c, nil
}

func mustCatalog(name string, defs []FieldDefinition) *Catalog {
	c, err := NewCatalog(name, defs)
	if err != nil {
		panic(fmt.Sprintf("iso8583: build %s catalog: %v", name, err))
	}
	return c
}

// Name returns the catalog label.
func (c *Catalog) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Lookup returns the definition of field n.
func (c *Catalog) Lookup(n int) (FieldDefinition, bool) {
	if c == nil {
		return FieldDefinition{}, false
	}
	d, ok := c.defs[n]
	return d, ok
}

// Definitions returns every definition in ascending field order.
func (c *Catalog) Definitions() []FieldDefinition {
	if c == nil {
		return nil
	}
	out := make([]FieldDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Len returns the number of defined fields.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.defs)
}

func fixed(n int, desc string, length int, class DataClass) FieldDefinition {
	return FieldDefinition{Number: n, Description: desc, MaxLength: length, Class: class}
}

func llvar(n int, desc string, max int, class DataClass) FieldDefinition {
	return FieldDefinition{Number: n, Description: desc, MaxLength: max, Variable: true, Class: class}
}

var minimalFields = []FieldDefinition{
	llvar(2, "Primary Account Number", 19, ClassNumeric),
	fixed(3, "Processing Code", 6, ClassNumeric),
	fixed(4, "Transaction Amount", 12, ClassNumeric),
	fixed(7, "Transmission Date & Time", 10, ClassAlphanumeric),
	fixed(11, "System Trace Audit Number", 6, ClassNumeric),
	fixed(12, "Local Transaction Time", 6, ClassAlphanumeric),
	fixed(13, "Local Transaction Date", 4, ClassAlphanumeric),
}

// ISO 8583:1987 data elements 2-64, text encoded. Binary elements carry
// their bytes as hex characters.
var standardFields = []FieldDefinition{
	llvar(2, "Primary Account Number", 19, ClassNumeric),
	fixed(3, "Processing Code", 6, ClassNumeric),
	fixed(4, "Transaction Amount", 12, ClassNumeric),
	fixed(5, "Settlement Amount", 12, ClassNumeric),
	fixed(6, "Cardholder Billing Amount", 12, ClassNumeric),
	fixed(7, "Transmission Date & Time", 10, ClassNumeric),
	fixed(8, "Cardholder Billing Fee Amount", 8, ClassNumeric),
	fixed(9, "Settlement Conversion Rate", 8, ClassNumeric),
	fixed(10, "Cardholder Billing Conversion Rate", 8, ClassNumeric),
	fixed(11, "System Trace Audit Number", 6, ClassNumeric),
	fixed(12, "Local Transaction Time", 6, ClassNumeric),
	fixed(13, "Local Transaction Date", 4, ClassNumeric),
	fixed(14, "Expiration Date", 4, ClassNumeric),
	fixed(15, "Settlement Date", 4, ClassNumeric),
	fixed(16, "Conversion Date", 4, ClassNumeric),
	fixed(17, "Capture Date", 4, ClassNumeric),
	fixed(18, "Merchant Type", 4, ClassNumeric),
	fixed(19, "Acquiring Institution Country Code", 3, ClassNumeric),
	fixed(20, "PAN Extended Country Code", 3, ClassNumeric),
	fixed(21, "Forwarding Institution Country Code", 3, ClassNumeric),
	fixed(22, "Point of Service Entry Mode", 3, ClassNumeric),
	fixed(23, "Card Sequence Number", 3, ClassNumeric),
	fixed(24, "Network International Identifier", 3, ClassNumeric),
	fixed(25, "Point of Service Condition Code", 2, ClassNumeric),
	fixed(26, "Point of Service Capture Code", 2, ClassNumeric),
	fixed(27, "Authorization ID Response Length", 1, ClassNumeric),
	fixed(28, "Amount, Transaction Fee", 9, ClassSignedNumeric),
	fixed(29, "Amount, Settlement Fee", 9, ClassSignedNumeric),
	fixed(30, "Amount, Transaction Processing Fee", 9, ClassSignedNumeric),
	fixed(31, "Amount, Settlement Processing Fee", 9, ClassSignedNumeric),
	llvar(32, "Acquiring Institution ID Code", 11, ClassNumeric),
	llvar(33, "Forwarding Institution ID Code", 11, ClassNumeric),
	llvar(34, "PAN Extended", 28, ClassTrack),
	llvar(35, "Track 2 Data", 37, ClassTrack),
	llvar(36, "Track 3 Data", 104, ClassTrack),
	fixed(37, "Retrieval Reference Number", 12, ClassAlphanumeric),
	fixed(38, "Authorization ID Response", 6, ClassAlphanumeric),
	fixed(39, "Response Code", 2, ClassAlphanumeric),
	fixed(40, "Service Restriction Code", 3, ClassAlphanumeric),
	fixed(41, "Card Acceptor Terminal ID", 8, ClassAlphanumeric),
	fixed(42, "Card Acceptor ID Code", 15, ClassAlphanumeric),
	fixed(43, "Card Acceptor Name/Location", 40, ClassAlphanumeric),
	llvar(44, "Additional Response Data", 25, ClassAlphanumeric),
	llvar(45, "Track 1 Data", 76, ClassTrack),
	llvar(46, "Additional Data - ISO", 999, ClassAlphanumeric),
	llvar(47, "Additional Data - National", 999, ClassAlphanumeric),
	llvar(48, "Additional Data - Private", 999, ClassAlphanumeric),
	fixed(49, "Currency Code, Transaction", 3, ClassNumeric),
	fixed(50, "Currency Code, Settlement", 3, ClassNumeric),
	fixed(51, "Currency Code, Cardholder Billing", 3, ClassNumeric),
	fixed(52, "PIN Data / Card Verification Value", 16, ClassBinary),
	fixed(53, "Security Related Control Information", 16, ClassNumeric),
	llvar(54, "Additional Amounts", 120, ClassAlphanumeric),
	llvar(55, "ICC Data", 255, ClassBinary),
	llvar(56, "Reserved ISO", 999, ClassAlphanumeric),
	llvar(57, "Reserved National", 999, ClassAlphanumeric),
	llvar(58, "Reserved National", 999, ClassAlphanumeric),
	llvar(59, "Reserved National", 999, ClassAlphanumeric),
	llvar(60, "Reserved National", 999, ClassAlphanumeric),
	llvar(61, "Reserved Private", 999, ClassAlphanumeric),
	llvar(62, "Reserved Private", 999, ClassAlphanumeric),
	llvar(63, "Reserved Private", 999, ClassAlphanumeric),
	fixed(64, "Message Authentication Code", 16, ClassBinary),
}

var (
	standardCatalog = mustCatalog("standard", standardFields)
	minimalCatalog  = mustCatalog("minimal", minimalFields)
)

// DefaultCatalog returns the ISO 8583:1987 catalog covering fields 2-64.
func DefaultCatalog() *Catalog {
	return standardCatalog
}

// MinimalCatalog returns the seven-field catalog used by basic
// authorization terminals: 2, 3, 4, 7, 11, 12 and 13.
func MinimalCatalog() *Catalog {
	return minimalCatalog
}
