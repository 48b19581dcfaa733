package main

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/report"
)

const sampleAuth = "0200" + "7238000000000000" + "16" + "1234567890123456" + "000000" +
	"000000010000" + "0709163030" + "123456" + "163030" + "0709"

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevErr := stdout, stderr
	stdout, stderr = &buf, &bytes.Buffer{}
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })
	return &buf
}

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDecodeCmdPrintsMaskedJSON(t *testing.T) {
	out := captureOutput(t)
	if err := decodeCmd([]string{"--mask", sampleAuth}); err != nil {
		t.Fatalf("decodeCmd: %v", err)
	}
	var doc struct {
		MTI    string            `json:"mti"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if doc.MTI != "0200" || doc.Fields["2"] != "************3456" || doc.Fields["11"] != "123456" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestDecodeCmdReadsStdin(t *testing.T) {
	out := captureOutput(t)
	prev := stdin
	stdin = strings.NewReader(sampleAuth + "\n")
	t.Cleanup(func() { stdin = prev })
	if err := decodeCmd([]string{"-"}); err != nil {
		t.Fatalf("decodeCmd: %v", err)
	}
	if !strings.Contains(out.String(), "1234567890123456") {
		t.Fatalf("unmasked output missing PAN: %s", out)
	}
}

func TestDecodeCmdReportsParseError(t *testing.T) {
	captureOutput(t)
	err := decodeCmd([]string{"0200"})
	if !errors.Is(err, iso8583.InputTooShort) {
		t.Fatalf("error = %v", err)
	}
	if !strings.HasPrefix(err.Error(), "ERR: input too short") {
		t.Fatalf("message = %q", err.Error())
	}
	if err := decodeCmd([]string{"--strict", sampleAuth + "XX"}); !errors.Is(err, iso8583.TrailingData) {
		t.Fatalf("strict error = %v", err)
	}
}

func TestBatchCmdWritesNDJSON(t *testing.T) {
	captureOutput(t)
	in := writeInput(t, sampleAuth, "", "0200", sampleAuth)
	outPath := filepath.Join(t.TempDir(), "results.ndjson")
	if err := batchCmd([]string{"--in", in, "--out", outPath, "--metrics"}); err != nil {
		t.Fatalf("batchCmd: %v", err)
	}
	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	var entries []report.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e report.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Line != 1 || !entries[0].OK() || entries[0].Fields["2"] != "************3456" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].Line != 3 || entries[1].Kind != string(iso8583.InputTooShort) {
		t.Fatalf("second entry = %+v", entries[1])
	}
	if entries[2].Line != 4 || !entries[2].OK() {
		t.Fatalf("third entry = %+v", entries[2])
	}
}

func TestBatchCmdRequiresInput(t *testing.T) {
	captureOutput(t)
	if err := batchCmd(nil); err == nil {
		t.Fatalf("expected error without --in")
	}
}

func TestReportCmdGeneratesOutputs(t *testing.T) {
	out := captureOutput(t)
	in := writeInput(t, sampleAuth, "0200723800000000000G")
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "report.pdf")
	jsonPath := filepath.Join(dir, "report.json")
	if err := reportCmd([]string{"--in", in, "--pdf", pdfPath, "--json", jsonPath, "--lang", "tr"}); err != nil {
		t.Fatalf("reportCmd: %v", err)
	}
	rep, err := report.LoadBatchJSON(jsonPath)
	if err != nil {
		t.Fatalf("LoadBatchJSON: %v", err)
	}
	if rep.Summary.Total != 2 || rep.Summary.Failed != 1 || rep.Summary.ByKind[string(iso8583.InvalidBitmap)] != 1 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
	info, err := os.Stat(pdfPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("pdf missing: %v", err)
	}
	if !strings.Contains(out.String(), "sha256="+rep.InputSHA256) {
		t.Fatalf("summary line = %q", out)
	}
	if err := reportCmd([]string{"--in", in, "--lang", "fr"}); !errors.Is(err, report.ErrUnsupportedLanguage) {
		t.Fatalf("lang error = %v", err)
	}
}

func TestCatalogCmdFormats(t *testing.T) {
	out := captureOutput(t)
	if err := catalogCmd([]string{"--catalog", "minimal"}); err != nil {
		t.Fatalf("table: %v", err)
	}
	if !strings.Contains(out.String(), "FIELD") || !strings.Contains(out.String(), "LLVAR") {
		t.Fatalf("table output = %s", out)
	}

	out.Reset()
	if err := catalogCmd([]string{"--format", "yaml"}); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	cat, err := iso8583.ParseCatalog(out.Bytes())
	if err != nil {
		t.Fatalf("yaml output does not load: %v", err)
	}
	if cat.Len() != iso8583.DefaultCatalog().Len() {
		t.Fatalf("yaml round trip has %d fields", cat.Len())
	}

	out.Reset()
	if err := catalogCmd([]string{"--format", "json"}); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !json.Valid(out.Bytes()) {
		t.Fatalf("json output invalid")
	}
	if err := catalogCmd([]string{"--format", "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestTokenizeDetokenizeCmds(t *testing.T) {
	out := captureOutput(t)
	keys := []string{"--passphrase", "cli-pass", "--salt", "cli-salt"}
	if err := tokenizeCmd(append(append([]string{}, keys...), "--kind", "cvv", "123")); err != nil {
		t.Fatalf("tokenizeCmd: %v", err)
	}
	tok := strings.TrimSpace(out.String())
	if !strings.HasPrefix(tok, "tok_cvv_") {
		t.Fatalf("token = %q", tok)
	}
	out.Reset()
	if err := detokenizeCmd(append(append([]string{}, keys...), tok)); err != nil {
		t.Fatalf("detokenizeCmd: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "cvv 123" {
		t.Fatalf("detokenize output = %q", got)
	}
	if err := tokenizeCmd(append(append([]string{}, keys...), "--kind", "pan", "12")); err == nil {
		t.Fatalf("short PAN accepted")
	}
}

func TestMaskCmd(t *testing.T) {
	out := captureOutput(t)
	if err := maskCmd([]string{"4000001234567899"}); err != nil {
		t.Fatalf("maskCmd: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "************7899" {
		t.Fatalf("mask output = %q", got)
	}
}

func TestAuditCmd(t *testing.T) {
	out := captureOutput(t)
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log := common.NewAuditLog(path)
	for _, e := range []common.AuditEntry{
		{Source: "tcp", Remote: "127.0.0.1:5000", MTI: "0200", Outcome: "decoded", Fields: map[string]string{"2": "tok_pan_x"}},
		{Source: "http", Outcome: "failed", ErrorKind: "InvalidBitmap"},
	} {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := auditCmd([]string{"--in", path}); err != nil {
		t.Fatalf("auditCmd: %v", err)
	}
	text := out.String()
	for _, want := range []string{"InvalidBitmap", "1 fields", "decoded=1", "failed=1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("audit output missing %q:\n%s", want, text)
		}
	}
}

func TestReportCmdSignedManifest(t *testing.T) {
	out := captureOutput(t)
	in := writeInput(t, sampleAuth)
	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keyPath := filepath.Join(dir, "key.pem")
	pubPath := filepath.Join(dir, "pub.pem")
	der, _ := x509.MarshalPKIXPublicKey(&key.PublicKey)
	os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600)
	os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o644)

	manifestPath := filepath.Join(dir, "manifest.json")
	err = reportCmd([]string{
		"--in", in,
		"--pdf", filepath.Join(dir, "r.pdf"),
		"--json", filepath.Join(dir, "r.json"),
		"--manifest", manifestPath,
		"--sign-key", keyPath,
		"--key-id", "ops",
	})
	if err != nil {
		t.Fatalf("reportCmd: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "manifest.jws")); err != nil {
		t.Fatalf("signature file missing: %v", err)
	}
	out.Reset()
	if err := verifyCmd([]string{"--manifest", manifestPath, "--pubkey", pubPath}); err != nil {
		t.Fatalf("verifyCmd: %v", err)
	}
	if !strings.Contains(out.String(), "3 items verified, signature valid") {
		t.Fatalf("verify output = %q", out)
	}

	if err := os.WriteFile(in, []byte("0200\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := verifyCmd([]string{"--manifest", manifestPath}); !errors.Is(err, report.ErrManifestMismatch) {
		t.Fatalf("tampered input error = %v", err)
	}
}
