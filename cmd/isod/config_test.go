package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/tokenize"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(tokenize.EnvPassphrase, "env-pass")
	t.Setenv(tokenize.EnvSalt, "env-salt")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTPPort != 8080 || *cfg.TCPPort != 5000 {
		t.Fatalf("ports = %d %d", cfg.HTTPPort, *cfg.TCPPort)
	}
	if cfg.MaxMessageBytes != 8192 || cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("limits = %d %s", cfg.MaxMessageBytes, cfg.ReadTimeout)
	}
	if cfg.Tokenization.Passphrase != "env-pass" || !cfg.Audit.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Logs.Directory != filepath.Join("data", "logs") || cfg.Logs.MaxBackups != 5 {
		t.Fatalf("logs = %+v", cfg.Logs)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv(tokenize.EnvPassphrase, "")
	t.Setenv(tokenize.EnvSalt, "")
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "acquirer.yaml")
	if err := os.WriteFile(catalogPath, []byte("name: acquirer\nextends: minimal\nfields: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	doc := `httpPort: 9090
tcpPort: 0
storageDir: /tmp/isogate
catalog: acquirer.yaml
trailing: reject
readTimeout: 5s
lang: tr
tokenization:
  passphrase: file-pass
  salt: file-salt
audit:
  enabled: false
logs:
  maxSizeMB: 10
  compress: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTPPort != 9090 || *cfg.TCPPort != 0 || cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Catalog != catalogPath {
		t.Fatalf("Catalog = %q, want %q", cfg.Catalog, catalogPath)
	}
	if cfg.Logs.MaxSizeMB != 10 || !cfg.Logs.Compress || cfg.Logs.Directory != "/tmp/isogate/logs" {
		t.Fatalf("logs = %+v", cfg.Logs)
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if opts.Decoder.Catalog().Name() != "acquirer" || opts.Audit != nil || opts.Lang != "tr" {
		t.Fatalf("opts = %+v", opts)
	}
	raw := "0200" + "7238000000000000" + "16" + "1234567890123456" + "000000" +
		"000000010000" + "0709163030" + "123456" + "163030" + "0709" + "XX"
	if _, err := opts.Decoder.Decode(raw); !errors.Is(err, iso8583.TrailingData) {
		t.Fatalf("reject policy not applied: %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv(tokenize.EnvPassphrase, "")
	t.Setenv(tokenize.EnvSalt, "")
	if _, err := loadConfig(writeConfig(t, "httpPort: 1\n")); err == nil || !strings.Contains(err.Error(), "passphrase") {
		t.Fatalf("missing passphrase error = %v", err)
	}
	if _, err := loadConfig(writeConfig(t, "httpPort: [\n")); err == nil {
		t.Fatalf("expected yaml error")
	}
	if _, err := loadConfig(writeConfig(t, "port: 1\n")); err == nil {
		t.Fatalf("expected unknown key error")
	}
	cfg, err := loadConfig(writeConfig(t, "trailing: drop\ntokenization: {passphrase: p, salt: s}\n"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if _, err := buildOptions(cfg); err == nil {
		t.Fatalf("expected trailing policy error")
	}
	cfg.Trailing = "ignore"
	cfg.Catalog = "missing.yaml"
	if _, err := buildOptions(cfg); err == nil {
		t.Fatalf("expected catalog error")
	}
	cfg.Catalog = "minimal"
	opts, err := buildOptions(cfg)
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if opts.Decoder.Catalog() != iso8583.MinimalCatalog() {
		t.Fatalf("catalog = %s", opts.Decoder.Catalog().Name())
	}
}
