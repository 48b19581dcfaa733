package server

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/tokenize"
)

// Result is the protected view of a decoded message handed to callers.
// Tokenized fields are keyed "<n>_<KIND>_tokenized"; the rest by number.
type Result struct {
	MTI    string            `json:"mti"`
	Fields map[string]string `json:"fields"`
}

// Processor is the decode pipeline shared by every ingress: decode, swap
// card data for tokens, count, audit and log. Clear PAN and CVV values
// never leave Process.
type Processor struct {
	Decoder *iso8583.Decoder
	Tokens  *tokenize.Service
	Metrics *common.Metrics
	Audit   *common.AuditLog
}

// Process decodes raw received from source. Decode failures are returned
// unchanged so callers can match them with errors.Is.
func (p *Processor) Process(source, remote, raw string) (*Result, error) {
	dec := p.Decoder
	if dec == nil {
		dec = iso8583.NewDecoder()
	}
	common.Logf("[%s] received %d bytes from %s: %s", source, len(raw), remote, tokenize.MaskRaw(raw))
	msg, err := dec.Decode(raw)
	if err != nil {
		p.reject(source, remote, len(raw), err)
		return nil, err
	}
	res, tokenized := p.protect(source, msg)
	if p.Metrics != nil {
		p.Metrics.ObserveDecoded(source, int64(len(raw)))
		p.Metrics.AddTokenized(tokenized)
	}
	common.Logf("[%s] parsed MTI %s: %s", source, res.MTI, formatFields(res.Fields))
	if p.Audit != nil {
		entry := common.AuditEntry{Source: source, Remote: remote, MTI: res.MTI, Outcome: "decoded", Fields: res.Fields}
		if err := p.Audit.Append(entry); err != nil {
			common.Logf("[%s] audit append: %v", source, err)
		}
	}
	return res, nil
}

func (p *Processor) protect(source string, msg *iso8583.Message) (*Result, int) {
	fields := msg.Fields()
	kinds := map[int]tokenize.Kind{}
	if p.Tokens != nil {
		protected, err := p.Tokens.Protect(msg)
		if err == nil {
			fields = protected.Message.Fields()
			kinds = protected.Kinds
		} else {
			common.Logf("[%s] tokenize: %v; masking instead", source, err)
		}
	}
	out := make(map[string]string, len(fields))
	for n, v := range fields {
		if kind, ok := kinds[n]; ok {
			out[strconv.Itoa(n)+"_"+strings.ToUpper(string(kind))+"_tokenized"] = v
			continue
		}
		if tokenize.Sensitive(n) {
			v = tokenize.Mask(v)
		}
		out[strconv.Itoa(n)] = v
	}
	return &Result{MTI: msg.MTI(), Fields: out}, len(kinds)
}

func (p *Processor) reject(source, remote string, size int, err error) {
	kind, field := errorKind(err)
	common.Logf("[%s] parse error from %s: %v", source, remote, err)
	if p.Metrics != nil {
		p.Metrics.ObserveFailed(source, int64(size), kind)
	}
	if p.Audit != nil {
		entry := common.AuditEntry{Source: source, Remote: remote, Outcome: "failed", ErrorKind: kind, Reason: err.Error(), Field: field}
		if aerr := p.Audit.Append(entry); aerr != nil {
			common.Logf("[%s] audit append: %v", source, aerr)
		}
	}
}

func errorKind(err error) (string, int) {
	var pe *iso8583.ParseError
	if errors.As(err, &pe) {
		return string(pe.Kind), pe.Field
	}
	return "", 0
}

func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.SplitN(keys[i], "_", 2)[0])
		b, _ := strconv.Atoi(strings.SplitN(keys[j], "_", 2)[0])
		return a < b
	})
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, " ")
}
