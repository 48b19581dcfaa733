package report

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/tokenize"
)

// Entry is the outcome for one input line.
type Entry struct {
	Line   int               `json:"line"`
	MTI    string            `json:"mti,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Error  string            `json:"error,omitempty"`
	Kind   string            `json:"kind,omitempty"`
	Field  int               `json:"field,omitempty"`
}

// OK reports whether the line decoded.
func (e Entry) OK() bool {
	return e.Error == ""
}

type Summary struct {
	Total   int            `json:"total"`
	Decoded int            `json:"decoded"`
	Failed  int            `json:"failed"`
	ByKind  map[string]int `json:"byKind,omitempty"`
}

// BatchReport summarizes decoding a file of newline separated messages.
type BatchReport struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Source      string    `json:"source"`
	Catalog     string    `json:"catalog"`
	InputSHA256 string    `json:"inputSha256"`
	Summary     Summary   `json:"summary"`
	Entries     []Entry   `json:"entries"`
}

// Kinds returns the error kinds seen, most frequent first.
func (r BatchReport) Kinds() []string {
	kinds := make([]string, 0, len(r.Summary.ByKind))
	for k := range r.Summary.ByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		a, b := r.Summary.ByKind[kinds[i]], r.Summary.ByKind[kinds[j]]
		if a != b {
			return a > b
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

// Masker hides sensitive values before they are written to a report.
type Masker func(map[int]string) map[int]string

// Build decodes every non-blank line of input. Field values pass through
// mask, which defaults to tokenize.MaskFields.
func Build(source string, input []byte, dec *iso8583.Decoder, mask Masker) BatchReport {
	if dec == nil {
		dec = iso8583.NewDecoder()
	}
	if mask == nil {
		mask = tokenize.MaskFields
	}
	h := common.NewHasher()
	h.Write(input)
	rep := BatchReport{
		GeneratedAt: time.Now().UTC(),
		Source:      source,
		Catalog:     dec.Catalog().Name(),
		InputSHA256: h.Sum(),
		Summary:     Summary{ByKind: make(map[string]int)},
	}
	// Lines have no length cap; every line of input gets an entry or is blank.
	for i, line := range strings.Split(string(input), "\n") {
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}
		rep.Entries = append(rep.Entries, DecodeEntry(i+1, raw, dec, mask))
	}
	for _, e := range rep.Entries {
		rep.Summary.Total++
		if e.OK() {
			rep.Summary.Decoded++
			continue
		}
		rep.Summary.Failed++
		rep.Summary.ByKind[e.Kind]++
	}
	return rep
}

// DecodeEntry decodes one raw message into a report entry. Values pass
// through mask; a nil mask uses tokenize.MaskFields.
func DecodeEntry(line int, raw string, dec *iso8583.Decoder, mask Masker) Entry {
	if mask == nil {
		mask = tokenize.MaskFields
	}
	msg, err := dec.Decode(raw)
	if err != nil {
		e := Entry{Line: line, Error: err.Error(), Kind: "Unknown"}
		var pe *iso8583.ParseError
		if errors.As(err, &pe) {
			e.Kind = string(pe.Kind)
			e.Field = pe.Field
		}
		return e
	}
	fields := mask(msg.Fields())
	out := make(map[string]string, len(fields))
	for n, v := range fields {
		out[strconv.Itoa(n)] = v
	}
	return Entry{Line: line, MTI: msg.MTI(), Fields: out}
}

func SaveBatchJSON(rep BatchReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadBatchJSON(path string) (BatchReport, error) {
	var rep BatchReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
