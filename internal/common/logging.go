package common

import (
	"io"
	"log"
	"os"
)

var (
	logger = log.New(os.Stderr, "[isogate] ", log.LstdFlags|log.Lmicroseconds)
)

// SetLogOutput redirects the package logger, typically to a MultiWriter
// over stderr and a rotating file.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	logger.SetOutput(w)
}

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}
