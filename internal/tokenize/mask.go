package tokenize

import (
	"strings"

	"example.com/isogate/internal/iso8583"
)

const redacted = "[REDACTED]"

// Mask hides a sensitive value for display. PAN-shaped values keep their
// last four digits, CVV-shaped values become "***", and anything else
// longer than ten characters is replaced wholesale.
func Mask(value string) string {
	switch {
	case KindPAN.Matches(value):
		return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
	case KindCVV.Matches(value):
		return "***"
	case len(value) > 10:
		return redacted
	default:
		return strings.Repeat("*", len(value))
	}
}

// sensitiveFields are masked in logs and reports.
var sensitiveFields = map[int]bool{2: true, 14: true, 35: true, 36: true, 45: true, 52: true, 55: true}

// Sensitive reports whether field n carries cardholder or PIN data.
func Sensitive(n int) bool {
	return sensitiveFields[n]
}

// MaskFields returns a copy of fields with sensitive values masked.
func MaskFields(fields map[int]string) map[int]string {
	out := make(map[int]string, len(fields))
	for n, v := range fields {
		if sensitiveFields[n] && !IsToken(v) {
			v = Mask(v)
		}
		out[n] = v
	}
	return out
}

// MaskMessage returns a copy of msg with sensitive fields masked.
func MaskMessage(msg *iso8583.Message) *iso8583.Message {
	masked, err := msg.WithFields(MaskFields(msg.Fields()))
	if err != nil {
		// MaskFields never adds fields.
		return msg
	}
	return masked
}

// MaskRaw masks input that may not decode, for logging. The MTI and
// bitmap header are kept; every digit run of PAN length in the body is
// masked and the remainder truncated.
func MaskRaw(raw string) string {
	const header = 20
	const keep = 64
	if len(raw) <= header {
		return raw
	}
	head, body := raw[:header], raw[header:]
	truncated := false
	if len(body) > keep {
		body = body[:keep]
		truncated = true
	}
	var b strings.Builder
	b.WriteString(head)
	run := 0
	flush := func(end int) {
		if run >= 13 {
			b.WriteString(Mask(body[end-run : end]))
		} else {
			b.WriteString(body[end-run : end])
		}
		run = 0
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= '0' && c <= '9' {
			run++
			continue
		}
		flush(i)
		b.WriteByte(c)
	}
	flush(len(body))
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}
