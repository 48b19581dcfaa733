package common

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics counts decode outcomes. It is safe for concurrent use by the TCP
// listener, the HTTP handlers and batch runs.
type Metrics struct {
	mu         sync.Mutex
	start      time.Time
	end        time.Time
	bytes      int64
	totalBytes int64
	messages   int64
	decoded    int64
	failed     int64
	tokenized  int64
	byKind     map[string]int64
	bySource   map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{byKind: make(map[string]int64), bySource: make(map[string]int64)}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

// ObserveDecoded records a message that decoded cleanly.
func (m *Metrics) ObserveDecoded(source string, size int64) {
	m.mu.Lock()
	m.observeLocked(source, size)
	m.decoded++
	m.mu.Unlock()
}

// ObserveFailed records a rejected message under its error kind.
func (m *Metrics) ObserveFailed(source string, size int64, kind string) {
	if kind == "" {
		kind = "Unknown"
	}
	m.mu.Lock()
	m.observeLocked(source, size)
	m.failed++
	m.byKind[kind]++
	m.mu.Unlock()
}

// AddTokenized counts sensitive fields replaced by tokens.
func (m *Metrics) AddTokenized(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.tokenized += int64(n)
	m.mu.Unlock()
}

func (m *Metrics) observeLocked(source string, size int64) {
	m.messages++
	if size > 0 {
		m.bytes += size
	}
	if source != "" {
		m.bySource[source]++
	}
}

func (m *Metrics) SetTotalBytes(total int64) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalBytes = total
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Duration:   m.elapsedLocked(),
		Bytes:      m.bytes,
		TotalBytes: m.totalBytes,
		Messages:   m.messages,
		Decoded:    m.decoded,
		Failed:     m.failed,
		Tokenized:  m.tokenized,
		ByKind:     copyCounts(m.byKind),
		BySource:   copyCounts(m.bySource),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration   time.Duration
	Bytes      int64
	TotalBytes int64
	Messages   int64
	Decoded    int64
	Failed     int64
	Tokenized  int64
	ByKind     map[string]int64
	BySource   map[string]int64
}

func (s MetricsSnapshot) MessagesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Messages) / s.Duration.Seconds()
}

func (s MetricsSnapshot) Completion() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	ratio := float64(s.Bytes) / float64(s.TotalBytes)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// WritePrometheus renders the snapshot in the Prometheus text exposition
// format.
func (s MetricsSnapshot) WritePrometheus(w io.Writer) error {
	var b strings.Builder
	counter := func(name, help string, v int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}
	counter("isogate_messages_total", "Messages received.", s.Messages)
	counter("isogate_messages_decoded_total", "Messages decoded successfully.", s.Decoded)
	counter("isogate_messages_failed_total", "Messages rejected by the decoder.", s.Failed)
	counter("isogate_bytes_total", "Raw message bytes received.", s.Bytes)
	counter("isogate_fields_tokenized_total", "Sensitive fields replaced by tokens.", s.Tokenized)
	writeLabelled(&b, "isogate_decode_errors_total", "Decode failures by error kind.", "kind", s.ByKind)
	writeLabelled(&b, "isogate_messages_by_source_total", "Messages received by ingress.", "source", s.BySource)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeLabelled(b *strings.Builder, name, help, label string, counts map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, k, counts[k])
	}
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	rate := s.MessagesPerSecond()
	if s.TotalBytes > 0 {
		pct := s.Completion() * 100
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			pct = 0
		}
		return fmt.Sprintf("Progress: %6.2f%% (%s / %s) %d ok %d failed %.0f msg/s",
			pct, FormatBytes(s.Bytes), FormatBytes(s.TotalBytes), s.Decoded, s.Failed, rate)
	}
	return fmt.Sprintf("Processed: %d messages (%d ok, %d failed) %.0f msg/s", s.Messages, s.Decoded, s.Failed, rate)
}

func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
