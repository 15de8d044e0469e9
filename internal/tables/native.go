package tables

import (
	"context"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// nativeTolerance is the column tolerance in PDF points.
const nativeTolerance = 6

// Native reads positioned text straight from the PDF content streams. It
// needs no external tools but only sees one fragment per text-show operator.
type Native struct {
	headerRows int
}

// NewNative creates a Native extractor.
func NewNative(headerRows int) *Native {
	return &Native{headerRows: headerRows}
}

// ExtractTables returns the primary table of each page, in page order.
func (n *Native) ExtractTables(ctx context.Context, pdfPath string) (tables []PageTable, err error) {
	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: open %s", pdfPath)
	}
	defer f.Close() //nolint:errcheck

	// The reader panics on some malformed content streams.
	defer func() {
		if p := recover(); p != nil {
			tables, err = nil, eris.Errorf("tables: read %s: %v", pdfPath, p)
		}
	}()

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "tables: native extract")
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			zap.L().Warn("tables: skipping unreadable page", zap.Int("page", i), zap.Error(err))
			continue
		}
		cells := primaryTable(linesFromRows(rows), nativeTolerance)
		if cells == nil {
			continue
		}
		tables = append(tables, PageTable{Page: i, Rows: dropHeader(cells, n.headerRows)})
	}
	return tables, nil
}

// linesFromRows converts text rows (top of page first) into lines. A row is
// detached when its distance to the previous one is well above the page's
// typical line spacing.
func linesFromRows(rows pdf.Rows) []line {
	var gaps []int64
	for i := 1; i < len(rows); i++ {
		gaps = append(gaps, rows[i-1].Position-rows[i].Position)
	}
	threshold := int64(-1)
	if len(gaps) > 0 {
		sorted := append([]int64(nil), gaps...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })
		threshold = sorted[len(sorted)/2] * 8 / 5
	}

	lines := make([]line, 0, len(rows))
	for i, row := range rows {
		var frags []fragment
		for _, t := range row.Content {
			text := strings.Join(strings.Fields(t.S), " ")
			if text == "" {
				continue
			}
			frags = append(frags, fragment{x: t.X, text: text})
		}
		detached := i > 0 && threshold >= 0 && gaps[i-1] > threshold
		lines = append(lines, line{frags: frags, detached: detached})
	}
	return lines
}
