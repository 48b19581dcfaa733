package server

import (
	"path/filepath"
	"testing"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/tokenize"
)

const sampleAuth = "0200" + "7238000000000000" + "16" + "1234567890123456" + "000000" +
	"000000010000" + "0709163030" + "123456" + "163030" + "0709"

func testOptions(t *testing.T) Options {
	t.Helper()
	tokens, err := tokenize.NewService("server-test", "server-salt")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	dir := t.TempDir()
	return Options{
		StorageDir: filepath.Join(dir, "storage"),
		Tokens:     tokens,
		Metrics:    common.NewMetrics(),
		Audit:      common.NewAuditLog(filepath.Join(dir, "audit.jsonl")),
	}
}
