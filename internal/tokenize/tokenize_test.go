package tokenize

import (
	"errors"
	"strings"
	"testing"

	"example.com/isogate/internal/iso8583"
)

const sampleAuth = "0200" + "7238000000000000" + "16" + "1234567890123456" + "000000" +
	"000000010000" + "0709163030" + "123456" + "163030" + "0709"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("test-passphrase", "test-salt")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestTokenizeRoundTrip(t *testing.T) {
	svc := newTestService(t)
	tests := []struct {
		kind  Kind
		value string
	}{
		{KindPAN, "4000001234567899"},
		{KindPAN, "1234567890123"},
		{KindCVV, "123"},
		{KindCVV, "9876"},
		{KindPIN, "0123456789ABCDEF"},
	}
	for _, tc := range tests {
		tok, err := svc.Tokenize(tc.kind, tc.value)
		if err != nil {
			t.Fatalf("Tokenize(%s, %s): %v", tc.kind, tc.value, err)
		}
		if !strings.HasPrefix(tok, "tok_"+string(tc.kind)+"_") {
			t.Fatalf("token %q lacks kind prefix", tok)
		}
		if strings.Contains(tok, tc.value) {
			t.Fatalf("token %q leaks plaintext", tok)
		}
		again, _ := svc.Tokenize(tc.kind, tc.value)
		if again != tok {
			t.Fatalf("tokens differ for equal input")
		}
		kind, value, err := svc.Detokenize(tok)
		if err != nil {
			t.Fatalf("Detokenize: %v", err)
		}
		if kind != tc.kind || value != tc.value {
			t.Fatalf("Detokenize = %s %s, want %s %s", kind, value, tc.kind, tc.value)
		}
	}
}

func TestTokenizeRejectsWrongShape(t *testing.T) {
	svc := newTestService(t)
	tests := []struct {
		kind  Kind
		value string
	}{
		{KindPAN, "123456789012"},
		{KindPAN, "12345678901234567890"},
		{KindPAN, "123456789012345X"},
		{KindCVV, "12"},
		{KindCVV, "12345"},
		{KindPIN, "0123"},
	}
	for _, tc := range tests {
		if _, err := svc.Tokenize(tc.kind, tc.value); !errors.Is(err, ErrInvalidShape) {
			t.Fatalf("Tokenize(%s, %q) error = %v", tc.kind, tc.value, err)
		}
	}
	if _, err := svc.Tokenize("ssn", "123"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind error = %v", err)
	}
}

func TestDetokenizeRejectsTampering(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Tokenize(KindPAN, "4000001234567899")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	relabeled := "tok_cvv_" + strings.TrimPrefix(tok, "tok_pan_")
	other, _ := NewService("other-passphrase", "test-salt")
	for name, token := range map[string]string{
		"no prefix":   strings.TrimPrefix(tok, "tok_"),
		"unknown":     "tok_ssn_AAAA",
		"bad base64":  "tok_pan_***",
		"short":       "tok_pan_AAAA",
		"relabeled":   relabeled,
		"flipped bit": tok[:len(tok)-2] + flip(tok[len(tok)-2]) + tok[len(tok)-1:],
	} {
		if _, _, err := svc.Detokenize(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: error = %v", name, err)
		}
	}
	if _, _, err := other.Detokenize(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign key accepted token")
	}
}

func flip(c byte) string {
	if c == 'A' {
		return "B"
	}
	return "A"
}

func TestNewServiceRequiresKeyMaterial(t *testing.T) {
	if _, err := NewService("", "salt"); err == nil {
		t.Fatalf("empty passphrase accepted")
	}
	if _, err := NewService("pass", ""); err == nil {
		t.Fatalf("empty salt accepted")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error without passphrase")
	}
	t.Setenv(EnvPassphrase, "env-pass")
	svc, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if _, err := svc.Tokenize(KindCVV, "123"); err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" PAN "); err != nil || k != KindPAN {
		t.Fatalf("ParseKind = %s, %v", k, err)
	}
	if _, err := ParseKind("track"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("ParseKind(track) error = %v", err)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"1234567890123456":     "************3456",
		"1234567890123":        "*********0123",
		"123":                  "***",
		"1234":                 "***",
		"ABCDEFGHIJK":          "[REDACTED]",
		"0123456789ABCDEF":     "[REDACTED]",
		"12345678901234567890": "[REDACTED]",
		"AB12":                 "****",
		"":                     "",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Fatalf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskRaw(t *testing.T) {
	raw := "0200" + "4000000000000000" + "16" + "4000001234567899"
	got := MaskRaw(raw)
	if strings.Contains(got, "4000001234567899") {
		t.Fatalf("MaskRaw leaked PAN: %s", got)
	}
	if !strings.HasPrefix(got, "02004000000000000000") {
		t.Fatalf("MaskRaw dropped header: %s", got)
	}
	if MaskRaw("0200") != "0200" {
		t.Fatalf("short input altered")
	}
	long := "0200" + "0000000000000000" + strings.Repeat("AB", 50)
	if got := MaskRaw(long); !strings.HasSuffix(got, "...") || len(got) != 20+64+3 {
		t.Fatalf("MaskRaw long = %q", got)
	}
}

func TestProtect(t *testing.T) {
	svc := newTestService(t)
	msg, err := iso8583.Decode(sampleAuth)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, err := svc.Protect(msg)
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	pan, _ := p.Message.Field(2)
	if !strings.HasPrefix(pan, "tok_pan_") {
		t.Fatalf("field 2 = %q", pan)
	}
	if orig, _ := msg.Field(2); orig != "1234567890123456" {
		t.Fatalf("input message mutated: %q", orig)
	}
	if p.Kinds[2] != KindPAN || len(p.Kinds) != 1 {
		t.Fatalf("Kinds = %v", p.Kinds)
	}
	if _, value, err := svc.Detokenize(pan); err != nil || value != "1234567890123456" {
		t.Fatalf("Detokenize = %q, %v", value, err)
	}
}

func TestProtectField52(t *testing.T) {
	svc := newTestService(t)
	cat, err := iso8583.NewCatalog("cvv", []iso8583.FieldDefinition{
		{Number: 52, MaxLength: 16, Variable: true, Class: iso8583.ClassAlphanumeric},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	dec := iso8583.NewDecoder(iso8583.WithCatalog(cat))
	tests := []struct {
		value string
		kind  Kind
		fail  bool
	}{
		{value: "123", kind: KindCVV},
		{value: "0123456789ABCDEF", kind: KindPIN},
		{value: "12345", fail: true},
	}
	for _, tc := range tests {
		raw := "0200" + "0000000000001000" + twoDigits(len(tc.value)) + tc.value
		msg, err := dec.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s): %v", raw, err)
		}
		p, err := svc.Protect(msg)
		if tc.fail {
			if !errors.Is(err, ErrInvalidShape) {
				t.Fatalf("Protect(%s) error = %v", tc.value, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Protect(%s): %v", tc.value, err)
		}
		if p.Kinds[52] != tc.kind {
			t.Fatalf("field 52 kind = %s, want %s", p.Kinds[52], tc.kind)
		}
	}
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}

func TestMaskMessage(t *testing.T) {
	msg, _ := iso8583.Decode(sampleAuth)
	masked := MaskMessage(msg)
	if v, _ := masked.Field(2); v != "************3456" {
		t.Fatalf("masked PAN = %q", v)
	}
	if v, _ := masked.Field(11); v != "123456" {
		t.Fatalf("non-sensitive field altered: %q", v)
	}
}
