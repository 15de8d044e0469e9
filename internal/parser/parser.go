// Package parser turns extracted labor-ministry tables into company
// candidates, folding wrapped rows and filtering headers and incomplete rows.
package parser

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/sells-group/registry-sync/internal/model"
	"github.com/sells-group/registry-sync/internal/tables"
)

// Name tags records produced by this parser.
const Name = "CroatianLaborPDFParser"

// Reject names the filter that excluded a row.
type Reject string

const (
	RejectTooFewColumns Reject = "less_than_4_cols"
	RejectHeader        Reject = "is_header"
	RejectNoLegalName   Reject = "no_legal_name"
	RejectNoLegalID     Reject = "no_legal_id"
	RejectNameTooShort  Reject = "name_too_short"
)

// Rejects lists every reason in the order the filters run.
var Rejects = []Reject{
	RejectTooFewColumns,
	RejectHeader,
	RejectNoLegalName,
	RejectNoLegalID,
	RejectNameTooShort,
}

// Outcome is the classification of one row: either a candidate or the
// reason the row was dropped.
type Outcome struct {
	Candidate *model.Candidate
	Reject    Reject
}

// Accepted reports whether the row produced a candidate.
func (o Outcome) Accepted() bool { return o.Candidate != nil }

// Options tunes row filtering.
type Options struct {
	HeaderKeywords []string
	MinNameLength  int
	MinColumns     int
}

// Parser classifies table rows. It holds no mutable state and is safe for
// concurrent use.
type Parser struct {
	keywords      []string
	minNameLength int
	minColumns    int
}

// New creates a Parser. Zero options fall back to the historical rules.
func New(opts Options) *Parser {
	kw := opts.HeaderKeywords
	if len(kw) == 0 {
		kw = []string{"r.br", "naziv", "oib", "adresa", "redni broj"}
	}
	folded := make([]string, 0, len(kw))
	for _, k := range kw {
		if k = strings.TrimSpace(k); k != "" {
			folded = append(folded, fold(k))
		}
	}
	p := &Parser{keywords: folded, minNameLength: opts.MinNameLength, minColumns: opts.MinColumns}
	if p.minNameLength <= 0 {
		p.minNameLength = 3
	}
	if p.minColumns < 4 {
		p.minColumns = 4
	}
	return p
}

// Result aggregates the outcomes of a parse.
type Result struct {
	Candidates []model.Candidate
	Filters    map[Reject]int
}

// TotalFiltered is the number of rejected rows.
func (r Result) TotalFiltered() int {
	n := 0
	for _, c := range r.Filters {
		n += c
	}
	return n
}

// ParseTables merges continuation rows of every table and classifies what
// remains, in page then row order.
func (p *Parser) ParseTables(pages []tables.PageTable) Result {
	res := Result{Candidates: []model.Candidate{}, Filters: make(map[Reject]int, len(Rejects))}
	for _, r := range Rejects {
		res.Filters[r] = 0
	}
	for _, pt := range pages {
		for _, row := range MergeContinuations(pt.Rows) {
			out := p.Classify(row, pt.Page)
			if out.Accepted() {
				res.Candidates = append(res.Candidates, *out.Candidate)
				continue
			}
			res.Filters[out.Reject]++
		}
	}
	return res
}

// MergeContinuations folds every row whose first cell is empty into the row
// above it. Cells present in both are joined with a space; the continuation
// row is dropped. The input is not modified.
func MergeContinuations(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(out) > 0 && isContinuation(row) {
			prev := out[len(out)-1]
			for j := range min(len(prev), len(row)) {
				if prev[j] != "" && row[j] != "" {
					prev[j] += " " + row[j]
				}
			}
			continue
		}
		out = append(out, append([]string(nil), row...))
	}
	return out
}

func isContinuation(row []string) bool {
	return len(row) == 0 || row[0] == ""
}

// Classify runs the row filters in order and returns the first rejection or
// the accepted candidate.
func (p *Parser) Classify(row []string, page int) Outcome {
	values := make([]string, 0, len(row))
	for _, c := range row {
		if c != "" {
			values = append(values, c)
		}
	}
	if len(values) < p.minColumns {
		return Outcome{Reject: RejectTooFewColumns}
	}
	if p.isHeader(values) {
		return Outcome{Reject: RejectHeader}
	}

	index, name, id, address := CleanValue(values[0]), CleanValue(values[1]), CleanValue(values[2]), CleanValue(values[3])
	switch {
	case name == "":
		return Outcome{Reject: RejectNoLegalName}
	case id == "":
		return Outcome{Reject: RejectNoLegalID}
	case utf8.RuneCountInString(name) < p.minNameLength:
		return Outcome{Reject: RejectNameTooShort}
	}

	return Outcome{Candidate: &model.Candidate{
		Index:      index,
		LegalName:  name,
		LegalID:    id,
		Address:    address,
		PageNumber: page,
	}}
}

func (p *Parser) isHeader(values []string) bool {
	for _, v := range values {
		cell := fold(strings.TrimSpace(v))
		for _, k := range p.keywords {
			if strings.Contains(cell, k) {
				return true
			}
		}
	}
	return false
}

// CleanValue trims a cell and collapses internal whitespace runs.
func CleanValue(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fold builds a new Caser per call because Casers are not safe for
// concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}
