package server

import (
	"errors"
	"time"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/report"
	"example.com/isogate/internal/tokenize"
)

const (
	DefaultMaxMessageBytes = 8 << 10
	DefaultMaxBatchBytes   = 16 << 20
	DefaultReadTimeout     = 30 * time.Second
)

// Options configures server creation.
type Options struct {
	StorageDir      string
	Decoder         *iso8583.Decoder
	Tokens          *tokenize.Service
	Metrics         *common.Metrics
	Audit           *common.AuditLog
	MaxMessageBytes int
	MaxBatchBytes   int64
	ReadTimeout     time.Duration
	Lang            report.Language
}

func (o Options) withDefaults() Options {
	if o.Decoder == nil {
		o.Decoder = iso8583.NewDecoder()
	}
	if o.Metrics == nil {
		o.Metrics = common.NewMetrics()
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.MaxBatchBytes <= 0 {
		o.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Lang == "" {
		o.Lang = report.LangEnglish
	}
	return o
}

func (o Options) validate() error {
	if o.Tokens == nil {
		return errors.New("tokenization service is required")
	}
	return nil
}

// Processor builds the shared decode pipeline described by the options.
func (o Options) Processor() *Processor {
	o = o.withDefaults()
	return &Processor{Decoder: o.Decoder, Tokens: o.Tokens, Metrics: o.Metrics, Audit: o.Audit}
}
