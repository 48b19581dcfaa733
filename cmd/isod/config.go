package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/server"
	"example.com/isogate/internal/tokenize"
)

type logConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type tokenizationConfig struct {
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"`
}

type auditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type config struct {
	HTTPPort        int                `yaml:"httpPort"`
	TCPPort         *int               `yaml:"tcpPort"`
	StorageDir      string             `yaml:"storageDir"`
	Catalog         string             `yaml:"catalog"`
	Trailing        string             `yaml:"trailing"`
	MaxMessageBytes int                `yaml:"maxMessageBytes"`
	ReadTimeout     time.Duration      `yaml:"readTimeout"`
	Lang            string             `yaml:"lang"`
	Tokenization    tokenizationConfig `yaml:"tokenization"`
	Audit           auditConfig        `yaml:"audit"`
	Logs            logConfig          `yaml:"logs"`
}

func defaultConfig() config {
	tcp := 5000
	return config{
		HTTPPort:        8080,
		TCPPort:         &tcp,
		StorageDir:      filepath.Join(".", "data"),
		Trailing:        "ignore",
		MaxMessageBytes: server.DefaultMaxMessageBytes,
		ReadTimeout:     server.DefaultReadTimeout,
		Lang:            "en",
		Audit:           auditConfig{Enabled: true},
	}
}

// loadConfig reads path when it exists; a missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	baseDir := "."
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			dec := yaml.NewDecoder(f)
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return cfg, fmt.Errorf("decode %s: %w", path, err)
			}
			baseDir = filepath.Dir(path)
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, err
		}
	}
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.TCPPort == nil {
		tcp := 5000
		cfg.TCPPort = &tcp
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = filepath.Join(".", "data")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Catalog)) {
	case "", "standard", "default", "minimal":
	default:
		cfg.Catalog = resolvePath(cfg.Catalog)
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = server.DefaultMaxMessageBytes
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = server.DefaultReadTimeout
	}
	if cfg.Tokenization.Passphrase == "" {
		cfg.Tokenization.Passphrase = os.Getenv(tokenize.EnvPassphrase)
	}
	if cfg.Tokenization.Salt == "" {
		cfg.Tokenization.Salt = os.Getenv(tokenize.EnvSalt)
	}
	if cfg.Tokenization.Passphrase == "" {
		return cfg, fmt.Errorf("tokenization passphrase not configured (set tokenization.passphrase or %s)", tokenize.EnvPassphrase)
	}
	if cfg.Tokenization.Salt == "" {
		return cfg, errors.New("tokenization salt not configured")
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = filepath.Join(cfg.StorageDir, "audit", "isod.jsonl")
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.StorageDir, "logs")
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	return cfg, nil
}

func setupLogging(cfg config) (io.Closer, error) {
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logs.Directory, "isod.log"),
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	out := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	common.SetLogOutput(out)
	return rotator, nil
}
