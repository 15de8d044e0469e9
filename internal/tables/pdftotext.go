package tables

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// layoutTolerance is the column tolerance, in characters, for pdftotext
// layout output.
const layoutTolerance = 2

// PdfToText extracts tables from the fixed-width layout output of the
// pdftotext CLI tool.
type PdfToText struct {
	binPath    string
	headerRows int
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty,
// "pdftotext" is used.
func NewPdfToText(binPath string, headerRows int) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, headerRows: headerRows}
}

// ExtractTables runs pdftotext -layout and returns the primary table of each
// page, in page order.
func (p *PdfToText) ExtractTables(ctx context.Context, pdfPath string) ([]PageTable, error) {
	text, err := p.layoutText(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	return tablesFromLayout(text, p.headerRows), nil
}

func (p *PdfToText) layoutText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "tables: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}
	return stdout.String(), nil
}

// tablesFromLayout splits layout text into pages on form feeds.
func tablesFromLayout(text string, headerRows int) []PageTable {
	var out []PageTable
	for i, page := range strings.Split(text, "\f") {
		var lines []line
		blank := false
		for _, raw := range strings.Split(page, "\n") {
			frags := splitLayoutLine(raw)
			if len(frags) == 0 {
				blank = true
				continue
			}
			lines = append(lines, line{frags: frags, detached: blank})
			blank = false
		}
		rows := primaryTable(lines, layoutTolerance)
		if rows == nil {
			continue
		}
		out = append(out, PageTable{Page: i + 1, Rows: dropHeader(rows, headerRows)})
	}
	return out
}
