// Package pdftest builds small text-only PDFs for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Item is one text-show operation at an absolute position.
type Item struct {
	X, Y float64
	S    string
}

// Bytes renders a PDF with one Helvetica text-show per item, one page per
// element of pages.
func Bytes(pages [][]Item) []byte {
	var objs []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	esc := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	for i, items := range pages {
		var content strings.Builder
		for _, it := range items {
			fmt.Fprintf(&content, "BT /F1 10 Tf 1 0 0 1 %g %g Tm (%s) Tj ET\n", it.X, it.Y, esc.Replace(it.S))
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

// WriteFile writes Bytes(pages) to a file in a temp dir and returns its path.
func WriteFile(t testing.TB, pages [][]Item) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(path, Bytes(pages), 0o644))
	return path
}

// CompanyPage is a registry listing page: a two-line banner, two companies
// and a continuation line under the second one.
func CompanyPage() []Item {
	return []Item{
		{50, 740, "POPIS POSLODAVACA"}, {350, 740, "Stanje 01.01.2024."},
		{50, 726, "R.BR."}, {100, 726, "NAZIV"}, {250, 726, "OIB"}, {350, 726, "ADRESA"},
		{50, 712, "1."}, {100, 712, "ACME d.o.o."}, {250, 712, "12345678901"}, {350, 712, "Ilica 1"},
		{50, 698, "2."}, {100, 698, "Beta obrt za"}, {250, 698, "23456789012"}, {350, 698, "Vukovarska 5"},
		{100, 684, "usluge"},
		{250, 600, "Stranica 1"},
	}
}
