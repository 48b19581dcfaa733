package iso8583

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Message is the read-only result of a decode. Only the Decoder populates
// it; derived copies come from WithFields.
type Message struct {
	mti          string
	primary      PresenceVector
	secondary    PresenceVector
	hasSecondary bool
	fields       map[int]string
}

// MTI returns the four character message type indicator.
func (m *Message) MTI() string {
	return m.mti
}

// PrimaryBitmap returns the presence vector for fields 1-64.
func (m *Message) PrimaryBitmap() PresenceVector {
	return m.primary
}

// SecondaryBitmap returns the presence vector for fields 65-128 and whether
// the message carried one.
func (m *Message) SecondaryBitmap() (PresenceVector, bool) {
	return m.secondary, m.hasSecondary
}

// Field returns the decoded value of field n.
func (m *Message) Field(n int) (string, bool) {
	v, ok := m.fields[n]
	return v, ok
}

// Fields returns a copy of the field mapping.
func (m *Message) Fields() map[int]string {
	out := make(map[int]string, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// FieldNumbers lists the decoded fields in ascending order.
func (m *Message) FieldNumbers() []int {
	out := make([]int, 0, len(m.fields))
	for k := range m.fields {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Len returns the number of decoded fields.
func (m *Message) Len() int {
	return len(m.fields)
}

// WithFields returns a copy of m with the given field values replaced. Only
// fields present in m can be replaced; m itself is left untouched.
func (m *Message) WithFields(replace map[int]string) (*Message, error) {
	for n := range replace {
		if _, ok := m.fields[n]; !ok {
			return nil, fmt.Errorf("field %d not present in message", n)
		}
	}
	out := &Message{
		mti:          m.mti,
		primary:      m.primary,
		secondary:    m.secondary,
		hasSecondary: m.hasSecondary,
		fields:       m.Fields(),
	}
	for n, v := range replace {
		out.fields[n] = v
	}
	return out, nil
}

type messageJSON struct {
	MTI             string            `json:"mti"`
	PrimaryBitmap   string            `json:"primaryBitmap"`
	SecondaryBitmap string            `json:"secondaryBitmap,omitempty"`
	Fields          map[string]string `json:"fields"`
}

// MarshalJSON renders the message with bitmaps as hex and fields keyed by
// their decimal number.
func (m *Message) MarshalJSON() ([]byte, error) {
	doc := messageJSON{
		MTI:           m.mti,
		PrimaryBitmap: m.primary.String(),
		Fields:        make(map[string]string, len(m.fields)),
	}
	if m.hasSecondary {
		doc.SecondaryBitmap = m.secondary.String()
	}
	for n, v := range m.fields {
		doc.Fields[strconv.Itoa(n)] = v
	}
	return json.Marshal(doc)
}

// builder is the mutable phase of a Message, local to one Decode call.
type builder struct {
	msg *Message
}

func newBuilder(mti string, primary PresenceVector) *builder {
	return &builder{msg: &Message{mti: mti, primary: primary, fields: make(map[int]string)}}
}

func (b *builder) setSecondary(v PresenceVector) {
	b.msg.secondary = v
	b.msg.hasSecondary = true
}

func (b *builder) set(field int, value string) {
	b.msg.fields[field] = value
}

// build hands out the message and detaches the builder from it.
func (b *builder) build() *Message {
	m := b.msg
	b.msg = nil
	return m
}
