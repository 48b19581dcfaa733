package report

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFOptions controls batch report rendering.
type PDFOptions struct {
	Lang      Language
	IncludeQR bool
}

// SaveBatchPDF renders the given batch report into a PDF document.
func SaveBatchPDF(rep BatchReport, out string, opts PDFOptions) error {
	tr := NewTranslator(opts.Lang)
	pdf := gofpdf.New("P", "mm", "A4", "")
	enc := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(key string) string { return enc(tr.T(key)) }

	pdf.SetTitle(tr.T("title"), true)
	pdf.SetAuthor("isoctl", false)
	pdf.SetCreator("isoctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, text("title"))
	pdf.Ln(12)

	addSummarySection(pdf, rep, text)
	if opts.IncludeQR && rep.InputSHA256 != "" {
		if err := addDigestQR(pdf, rep.InputSHA256, text("label.qr")); err != nil {
			return err
		}
	}
	addKindsSection(pdf, rep, text)
	addEntriesSection(pdf, rep.Entries, tr, enc)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addSummarySection(pdf *gofpdf.Fpdf, rep BatchReport, text func(string) string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, text("section.summary"))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: text("label.generated"), value: rep.GeneratedAt.Format(time.RFC3339)},
		{label: text("label.source"), value: emptyFallback(rep.Source, "-")},
		{label: text("label.catalog"), value: emptyFallback(rep.Catalog, "-")},
		{label: text("label.sha256"), value: emptyFallback(rep.InputSHA256, "-")},
		{label: text("label.total"), value: strconv.Itoa(rep.Summary.Total)},
		{label: text("label.decoded"), value: strconv.Itoa(rep.Summary.Decoded)},
		{label: text("label.failed"), value: strconv.Itoa(rep.Summary.Failed)},
	}
	for _, item := range items {
		pdf.CellFormat(45, 6, item.label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 6, item.value, "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
	}
	pdf.Ln(4)
}

func addDigestQR(pdf *gofpdf.Fpdf, digest, caption string) error {
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return fmt.Errorf("digest qr: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("digest-qr", opts, bytes.NewReader(png))
	x, y := pdf.GetX(), pdf.GetY()
	pdf.ImageOptions("digest-qr", x, y, 30, 30, false, opts, 0, "")
	pdf.SetXY(x+34, y+12)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.Cell(0, 6, caption)
	pdf.SetXY(x, y+34)
	return nil
}

func addKindsSection(pdf *gofpdf.Fpdf, rep BatchReport, text func(string) string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, text("section.kinds"))
	pdf.Ln(9)

	kinds := rep.Kinds()
	if len(kinds) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, text("kinds.none"), "", "L", false)
		pdf.Ln(4)
		return
	}
	widths := []float64{70, 25}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(widths[0], 7, text("col.kind"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(widths[1], 7, text("col.count"), "1", 1, "L", true, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, k := range kinds {
		renderTableRow(pdf, widths, []string{k, strconv.Itoa(rep.Summary.ByKind[k])}, 5)
	}
	pdf.Ln(4)
}

func addEntriesSection(pdf *gofpdf.Fpdf, entries []Entry, tr Translator, enc func(string) string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(tr.T("section.entries")))
	pdf.Ln(9)

	if len(entries) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, enc(tr.T("entries.none")), "", "L", false)
		return
	}

	headers := []string{tr.T("col.line"), tr.T("col.mti"), tr.T("col.result"), tr.T("col.detail")}
	widths := []float64{16, 18, 22, 124}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, enc(h), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, e := range entries {
		result := tr.T("result.ok")
		detail := formatFields(e.Fields)
		if !e.OK() {
			result = tr.T("result.fail")
			detail = e.Kind + ": " + e.Error
			if e.Field > 0 {
				detail += " (" + tr.Format("field.at", e.Field) + ")"
			}
		}
		renderTableRow(pdf, widths, []string{strconv.Itoa(e.Line), e.MTI, enc(result), enc(detail)}, 4)
	}
}

func formatFields(fields map[string]string) string {
	keys := make([]int, 0, len(fields))
	for k := range fields {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, n := range keys {
		parts = append(parts, fmt.Sprintf("%d=%s", n, fields[strconv.Itoa(n)]))
	}
	return strings.Join(parts, " ")
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if yStart+rowHeight > pageHeight-bottom {
		pdf.AddPage()
		xStart, yStart = pdf.GetX(), pdf.GetY()
	}
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
