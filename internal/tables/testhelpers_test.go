package tables

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-sync/internal/pdftest"
)

type textItem = pdftest.Item

func writeTestPDF(t *testing.T, pages [][]textItem) string {
	t.Helper()
	return pdftest.WriteFile(t, pages)
}

// layoutRow renders cells at fixed column widths the way pdftotext -layout
// lays out a table row.
func layoutRow(cells ...string) string {
	widths := []int{8, 24, 15}
	var b strings.Builder
	for i, c := range cells {
		if i < len(widths) {
			fmt.Fprintf(&b, "%-*s", widths[i], c)
		} else {
			b.WriteString(c)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// fakePdfToText installs a script that prints output regardless of its
// arguments.
func fakePdfToText(t *testing.T, output string) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "layout.txt")
	require.NoError(t, os.WriteFile(fixture, []byte(output), 0o644))
	script := filepath.Join(dir, "pdftotext")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat '"+fixture+"'\n"), 0o755))
	return script
}
