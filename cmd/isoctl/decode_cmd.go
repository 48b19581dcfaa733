package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/report"
	"example.com/isogate/internal/server"
	"example.com/isogate/internal/tokenize"
)

func decodeCmd(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	df := addDecoderFlags(fs)
	mask := fs.Bool("mask", false, "mask card data in the output")
	fs.Parse(args)

	raw, err := messageArg(fs)
	if err != nil {
		return err
	}
	dec, err := df.decoder()
	if err != nil {
		return err
	}
	msg, err := dec.Decode(raw)
	if err != nil {
		var pe *iso8583.ParseError
		if errors.As(err, &pe) {
			return fmt.Errorf("ERR: %w (%s, field %d, offset %d)", pe, pe.Kind, pe.Field, pe.Offset)
		}
		return fmt.Errorf("ERR: %w", err)
	}
	if *mask {
		msg = tokenize.MaskMessage(msg)
	}
	out, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}

func batchCmd(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	in := fs.String("in", "", "newline separated messages")
	out := fs.String("out", "", "NDJSON results (default stdout)")
	df := addDecoderFlags(fs)
	progressFlag := fs.Bool("progress", false, "display progress updates")
	metricsFlag := fs.Bool("metrics", false, "print decode metrics")
	fs.Parse(args)

	if *in == "" {
		return errors.New("required: --in")
	}
	dec, err := df.decoder()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	dest := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		dest = f
	}
	writer := server.NewNDJSONWriter(dest)

	metrics := common.NewMetrics()
	metrics.SetTotalBytes(int64(len(data)))
	metrics.Start()
	stopProgress := func() {}
	if *progressFlag {
		stopProgress = common.StartProgressPrinter(stderr, metrics, 500*time.Millisecond)
	}
	for i, line := range strings.Split(string(data), "\n") {
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}
		entry := report.DecodeEntry(i+1, raw, dec, nil)
		if entry.OK() {
			metrics.ObserveDecoded("batch", int64(len(line)+1))
		} else {
			metrics.ObserveFailed("batch", int64(len(line)+1), entry.Kind)
		}
		if err := writer.WriteObject(entry); err != nil {
			stopProgress()
			return fmt.Errorf("write results: %w", err)
		}
	}
	stopProgress()
	metrics.Stop()
	snap := metrics.Snapshot()
	fmt.Fprintf(stderr, "messages=%d decoded=%d failed=%d\n", snap.Messages, snap.Decoded, snap.Failed)
	if *metricsFlag {
		fmt.Fprintf(stderr, "Metrics: duration=%s processed=%s rate=%.0f msg/s\n",
			snap.Duration.Round(10*time.Millisecond), common.FormatBytes(snap.Bytes), snap.MessagesPerSecond())
		for _, kind := range sortedKeys(snap.ByKind) {
			fmt.Fprintf(stderr, "  %-22s %d\n", kind, snap.ByKind[kind])
		}
	}
	return nil
}

func reportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "newline separated messages")
	pdfOut := fs.String("pdf", "batch_report.pdf", "PDF output")
	jsonOut := fs.String("json", "batch_report.json", "JSON output")
	lang := fs.String("lang", "en", "report language (en, tr)")
	noQR := fs.Bool("no-qr", false, "omit the input digest QR code")
	manifestOut := fs.String("manifest", "", "write a manifest of the input and outputs")
	signKey := fs.String("sign-key", "", "RSA private key (PEM) used to sign the manifest")
	keyID := fs.String("key-id", "", "key identifier recorded in the signature")
	df := addDecoderFlags(fs)
	fs.Parse(args)

	if *in == "" {
		return errors.New("required: --in")
	}
	language, err := report.ParseLanguage(*lang)
	if err != nil {
		return err
	}
	dec, err := df.decoder()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	rep := report.Build(*in, data, dec, nil)
	if *jsonOut != "" {
		if err := report.SaveBatchJSON(rep, *jsonOut); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if *pdfOut != "" {
		if err := report.SaveBatchPDF(rep, *pdfOut, report.PDFOptions{Lang: language, IncludeQR: !*noQR}); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	fmt.Fprintf(stdout, "messages=%d decoded=%d failed=%d sha256=%s\n",
		rep.Summary.Total, rep.Summary.Decoded, rep.Summary.Failed, rep.InputSHA256)
	if *manifestOut == "" {
		if *signKey != "" {
			return errors.New("--sign-key requires --manifest")
		}
		return nil
	}
	paths := []string{*in}
	for _, p := range []string{*jsonOut, *pdfOut} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	m, err := report.BuildManifest(paths)
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	if *signKey == "" {
		if err := report.SaveManifest(m, *manifestOut); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Wrote", *manifestOut)
		return nil
	}
	keyBytes, err := os.ReadFile(*signKey)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	sigPath := strings.TrimSuffix(*manifestOut, filepath.Ext(*manifestOut)) + ".jws"
	if err := report.SignManifest(m, *manifestOut, sigPath, keyBytes, *keyID); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Wrote", *manifestOut)
	fmt.Fprintln(stdout, "Wrote signature", sigPath)
	return nil
}

func verifyCmd(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	pubKey := fs.String("pubkey", "", "signer public key or certificate (PEM)")
	fs.Parse(args)

	if *manifestPath == "" {
		return errors.New("required: --manifest")
	}
	var pubPEM []byte
	if *pubKey != "" {
		var err error
		if pubPEM, err = os.ReadFile(*pubKey); err != nil {
			return fmt.Errorf("read public key: %w", err)
		}
	}
	m, err := report.VerifyManifest(*manifestPath, pubPEM)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Fprintf(stdout, "OK: %d items verified", len(m.Items))
	if pubPEM != nil {
		fmt.Fprint(stdout, ", signature valid")
	}
	fmt.Fprintln(stdout)
	return nil
}
