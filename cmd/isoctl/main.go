package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/tokenize"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	var err error
	switch cmd {
	case "decode":
		err = decodeCmd(args)
	case "batch":
		err = batchCmd(args)
	case "report":
		err = reportCmd(args)
	case "catalog":
		err = catalogCmd(args)
	case "tokenize":
		err = tokenizeCmd(args)
	case "detokenize":
		err = detokenizeCmd(args)
	case "mask":
		err = maskCmd(args)
	case "verify":
		err = verifyCmd(args)
	case "audit":
		err = auditCmd(args)
	case "version":
		fmt.Fprintf(stdout, "isoctl %s (built %s)\n", version, buildDate)
	default:
		usage()
		return
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(stdout, `isoctl %s (built %s) <command> [options]

Commands:
  decode     [--catalog <file|minimal>] [--strict] [--mask] <message|->
  batch      --in <messages.txt> [--out <results.ndjson>] [--catalog <file>] [--strict] [--progress] [--metrics]
  report     --in <messages.txt> [--pdf <report.pdf>] [--json <report.json>] [--lang en|tr] [--no-qr]
             [--manifest <manifest.json> [--sign-key <key.pem> --key-id <id>]]
  verify     --manifest <manifest.json> [--pubkey <pub.pem|cert.pem>]
  catalog    [--catalog <file|minimal>] [--format table|yaml|json]
  tokenize   --kind pan|cvv|pin [--passphrase <p> --salt <s>] <value>
  detokenize [--passphrase <p> --salt <s>] <token>
  mask       <value>
  audit      --in <audit.jsonl>
  version
`, version, buildDate)
}

type decoderFlags struct {
	catalog *string
	strict  *bool
}

func addDecoderFlags(fs *flag.FlagSet) decoderFlags {
	return decoderFlags{
		catalog: fs.String("catalog", "", "field catalog: standard, minimal or a YAML/JSON file"),
		strict:  fs.Bool("strict", false, "reject characters after the last field"),
	}
}

func (f decoderFlags) decoder() (*iso8583.Decoder, error) {
	cat, err := iso8583.OpenCatalog(*f.catalog)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	policy := iso8583.TrailingIgnore
	if *f.strict {
		policy = iso8583.TrailingReject
	}
	return iso8583.NewDecoder(iso8583.WithCatalog(cat), iso8583.WithTrailingPolicy(policy)), nil
}

type keyFlags struct {
	passphrase *string
	salt       *string
}

func addKeyFlags(fs *flag.FlagSet) keyFlags {
	return keyFlags{
		passphrase: fs.String("passphrase", "", "token key passphrase (default $"+tokenize.EnvPassphrase+")"),
		salt:       fs.String("salt", "", "token key salt (default $"+tokenize.EnvSalt+")"),
	}
}

func (k keyFlags) service() (*tokenize.Service, error) {
	if *k.passphrase == "" {
		return tokenize.FromEnv()
	}
	salt := *k.salt
	if salt == "" {
		salt = os.Getenv(tokenize.EnvSalt)
	}
	if salt == "" {
		return nil, errors.New("required: --salt")
	}
	return tokenize.NewService(*k.passphrase, salt)
}

// messageArg returns the single positional argument, reading stdin for "-"
// or when none is given.
func messageArg(fs *flag.FlagSet) (string, error) {
	switch fs.NArg() {
	case 0:
	case 1:
		if fs.Arg(0) != "-" {
			return fs.Arg(0), nil
		}
	default:
		return "", fmt.Errorf("expected one argument, got %d", fs.NArg())
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
