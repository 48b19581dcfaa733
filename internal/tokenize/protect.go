package tokenize

import (
	"fmt"

	"example.com/isogate/internal/iso8583"
)

// Field numbers carrying values Protect replaces with tokens.
const (
	FieldPAN = 2
	FieldPIN = 52
)

// Protected is a message whose sensitive fields were tokenized, plus the
// kind used for each replaced field.
type Protected struct {
	Message *iso8583.Message
	Kinds   map[int]Kind
}

// Protect tokenizes field 2 as a PAN and field 52 as a CVV when it has CVV
// shape, otherwise as a PIN block. Absent fields are left alone. The input
// message is not modified.
func (s *Service) Protect(msg *iso8583.Message) (*Protected, error) {
	replace := make(map[int]string, 2)
	kinds := make(map[int]Kind, 2)
	if pan, ok := msg.Field(FieldPAN); ok {
		tok, err := s.Tokenize(KindPAN, pan)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", FieldPAN, err)
		}
		replace[FieldPAN] = tok
		kinds[FieldPAN] = KindPAN
	}
	if v, ok := msg.Field(FieldPIN); ok {
		kind := KindPIN
		if KindCVV.Matches(v) {
			kind = KindCVV
		}
		tok, err := s.Tokenize(kind, v)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", FieldPIN, err)
		}
		replace[FieldPIN] = tok
		kinds[FieldPIN] = kind
	}
	if len(replace) == 0 {
		return &Protected{Message: msg, Kinds: kinds}, nil
	}
	out, err := msg.WithFields(replace)
	if err != nil {
		return nil, err
	}
	return &Protected{Message: out, Kinds: kinds}, nil
}
