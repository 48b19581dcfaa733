package iso8583

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	mtiLen    = 4
	headerLen = mtiLen + BitmapHexLen
)

var (
	numericPattern       = regexp.MustCompile(`^[0-9]+$`)
	signedNumericPattern = regexp.MustCompile(`^[CD][0-9]+$`)
)

// TrailingPolicy decides what happens to bytes after the last present field.
type TrailingPolicy int

const (
	// TrailingIgnore drops anything after the last field.
	TrailingIgnore TrailingPolicy = iota
	// TrailingReject fails the decode with TrailingData.
	TrailingReject
)

// ParseTrailingPolicy maps "ignore" (or empty) and "reject" to a policy.
func ParseTrailingPolicy(s string) (TrailingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return TrailingIgnore, nil
	case "reject", "strict":
		return TrailingReject, nil
	}
	return TrailingIgnore, fmt.Errorf("unknown trailing policy %q", s)
}

func (p TrailingPolicy) String() string {
	if p == TrailingReject {
		return "reject"
	}
	return "ignore"
}

// Decoder turns raw message text into a Message. A Decoder is immutable and
// may be shared by any number of goroutines.
type Decoder struct {
	catalog  *Catalog
	trailing TrailingPolicy
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithCatalog selects the field catalog. A nil catalog keeps the default.
func WithCatalog(c *Catalog) Option {
	return func(d *Decoder) {
		if c != nil {
			d.catalog = c
		}
	}
}

// WithTrailingPolicy selects how trailing bytes are handled.
func WithTrailingPolicy(p TrailingPolicy) Option {
	return func(d *Decoder) {
		d.trailing = p
	}
}

// NewDecoder returns a decoder using the standard catalog unless overridden.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{catalog: DefaultCatalog(), trailing: TrailingIgnore}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var defaultDecoder = NewDecoder()

// Decode decodes raw with the standard catalog, ignoring trailing bytes.
func Decode(raw string) (*Message, error) {
	return defaultDecoder.Decode(raw)
}

// Catalog returns the catalog the decoder walks with.
func (d *Decoder) Catalog() *Catalog {
	return d.catalog
}

// Decode walks raw once: MTI, primary bitmap, optional secondary bitmap,
// then every flagged field in ascending order. Any failure aborts the whole
// decode and no Message is returned.
func (d *Decoder) Decode(raw string) (*Message, error) {
	if len(raw) < headerLen {
		return nil, newError(InputTooShort, len(raw), "input too short: need at least %d characters, got %d", headerLen, len(raw))
	}
	primary, err := bitmapAt(raw, mtiLen)
	if err != nil {
		return nil, err
	}
	b := newBuilder(raw[:mtiLen], primary)
	cursor := headerLen

	var secondary *PresenceVector
	if primary.HasSecondary() {
		if len(raw) < cursor+BitmapHexLen {
			return nil, newError(InputTooShort, cursor, "input too short: secondary bitmap indicated but only %d characters remain", len(raw)-cursor)
		}
		sec, err := bitmapAt(raw, cursor)
		if err != nil {
			return nil, err
		}
		b.setSecondary(sec)
		secondary = &sec
		cursor += BitmapHexLen
	}

	present := Combine(primary, secondary)
	for field := MinField; field <= MaxField; field++ {
		if !present.Has(field) {
			continue
		}
		def, ok := d.catalog.Lookup(field)
		if !ok {
			return nil, fieldError(UnsupportedField, field, cursor, "unsupported field %d", field)
		}
		length := def.MaxLength
		if def.Variable {
			digits := def.LengthPrefixDigits()
			if cursor+digits > len(raw) {
				return nil, fieldError(InsufficientData, field, cursor, "insufficient data for length of field %d", field)
			}
			prefix := raw[cursor : cursor+digits]
			if !numericPattern.MatchString(prefix) {
				return nil, fieldError(InvalidLengthPrefix, field, cursor, "invalid length format in field %d: %q", field, prefix)
			}
			n, err := strconv.Atoi(prefix)
			if err != nil {
				return nil, fieldError(InvalidLengthPrefix, field, cursor, "invalid length format in field %d: %q", field, prefix)
			}
			if n > def.MaxLength {
				return nil, fieldError(LengthExceedsMaximum, field, cursor, "field %d length %d exceeds max allowed %d", field, n, def.MaxLength)
			}
			cursor += digits
			length = n
		}
		if cursor+length > len(raw) {
			return nil, fieldError(InsufficientData, field, cursor, "insufficient data for field %d: need %d characters, %d remain", field, length, len(raw)-cursor)
		}
		value := raw[cursor : cursor+length]
		if !validFormat(def.Class, value) {
			return nil, fieldError(InvalidFieldFormat, field, cursor, "invalid format in field %d", field)
		}
		b.set(field, value)
		cursor += length
	}

	if d.trailing == TrailingReject && cursor != len(raw) {
		return nil, newError(TrailingData, cursor, "%d unexpected characters after last field", len(raw)-cursor)
	}
	return b.build(), nil
}

func bitmapAt(raw string, offset int) (PresenceVector, error) {
	v, err := DecodeBitmap(raw[offset : offset+BitmapHexLen])
	if err != nil {
		if pe, ok := err.(*ParseError); ok && pe.Offset >= 0 {
			pe.Offset += offset
			pe.Reason = fmt.Sprintf("invalid bitmap character %q at offset %d", raw[pe.Offset], pe.Offset)
		}
		return PresenceVector{}, err
	}
	return v, nil
}

func validFormat(class DataClass, value string) bool {
	switch class {
	case ClassNumeric:
		return numericPattern.MatchString(value)
	case ClassSignedNumeric:
		return signedNumericPattern.MatchString(value)
	}
	return true
}
