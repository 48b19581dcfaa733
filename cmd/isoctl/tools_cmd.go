package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/tokenize"
)

func catalogCmd(args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	ref := fs.String("catalog", "", "field catalog: standard, minimal or a YAML/JSON file")
	format := fs.String("format", "table", "output format: table, yaml or json")
	fs.Parse(args)

	cat, err := iso8583.OpenCatalog(*ref)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	switch *format {
	case "table":
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "FIELD\tTYPE\tMAX\tCLASS\tDESCRIPTION\n")
		for _, d := range cat.Definitions() {
			typ := "fixed"
			if d.Variable {
				typ = strings.Repeat("L", d.LengthPrefixDigits()) + "VAR"
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", d.Number, typ, d.MaxLength, d.Class, d.Description)
		}
		return tw.Flush()
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cat.File()); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		out, err := json.MarshalIndent(cat.File(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(out))
		return nil
	}
	return fmt.Errorf("unknown format %q", *format)
}

func tokenizeCmd(args []string) error {
	fs := flag.NewFlagSet("tokenize", flag.ExitOnError)
	kindFlag := fs.String("kind", "pan", "value kind: pan, cvv or pin")
	keys := addKeyFlags(fs)
	fs.Parse(args)

	value, err := messageArg(fs)
	if err != nil {
		return err
	}
	kind, err := tokenize.ParseKind(*kindFlag)
	if err != nil {
		return err
	}
	svc, err := keys.service()
	if err != nil {
		return err
	}
	tok, err := svc.Tokenize(kind, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func detokenizeCmd(args []string) error {
	fs := flag.NewFlagSet("detokenize", flag.ExitOnError)
	keys := addKeyFlags(fs)
	fs.Parse(args)

	tok, err := messageArg(fs)
	if err != nil {
		return err
	}
	svc, err := keys.service()
	if err != nil {
		return err
	}
	kind, value, err := svc.Detokenize(tok)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s\n", kind, value)
	return nil
}

func maskCmd(args []string) error {
	fs := flag.NewFlagSet("mask", flag.ExitOnError)
	fs.Parse(args)

	value, err := messageArg(fs)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tokenize.Mask(value))
	return nil
}

func auditCmd(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	in := fs.String("in", "", "audit log (JSONL)")
	limit := fs.Int("limit", 0, "show only the last N entries")
	fs.Parse(args)

	if *in == "" {
		return errors.New("required: --in")
	}
	entries, err := common.ReadAuditLog(*in)
	if err != nil {
		return err
	}
	if *limit > 0 && len(entries) > *limit {
		entries = entries[len(entries)-*limit:]
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TIME\tSOURCE\tREMOTE\tMTI\tOUTCOME\tDETAIL\n")
	outcomes := make(map[string]int64)
	for _, e := range entries {
		detail := e.ErrorKind
		if e.Field > 0 {
			detail += " field " + strconv.Itoa(e.Field)
		}
		if detail == "" {
			detail = strconv.Itoa(len(e.Fields)) + " fields"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Ts.Format("2006-01-02T15:04:05Z07:00"), e.Source, e.Remote, e.MTI, e.Outcome, detail)
		outcomes[e.Outcome]++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, o := range sortedKeys(outcomes) {
		fmt.Fprintf(stdout, "%s=%d\n", o, outcomes[o])
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
