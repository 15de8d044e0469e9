package tables

import (
	"sort"
	"strings"
)

// fragment is a run of text starting at horizontal position x.
type fragment struct {
	x    float64
	text string
}

// line is one visual line of a page. detached marks a line separated from
// the previous one by vertical whitespace.
type line struct {
	frags    []fragment
	detached bool
}

// primaryTable picks the largest block of tabular lines and lays its
// fragments out into columns. tol is the distance within which fragment
// starts count as the same column. Returns nil when the page has no table.
//
// A line with two or more fragments is tabular. A single-fragment line that
// starts right of the block's left edge and directly follows the previous
// line is a wrapped continuation and stays in the block with an empty first
// cell. Anything else closes the block.
func primaryTable(lines []line, tol float64) [][]string {
	var (
		blocks  [][]line
		current []line
		left    float64
	)
	closeBlock := func() {
		if len(current) > 0 {
			blocks = append(blocks, current)
		}
		current = nil
	}

	for _, l := range lines {
		switch {
		case len(l.frags) == 0:
			continue
		case len(l.frags) >= 2:
			if len(current) == 0 || l.frags[0].x < left {
				left = l.frags[0].x
			}
			current = append(current, l)
		case len(current) > 0 && !l.detached && l.frags[0].x > left+tol:
			current = append(current, l)
		default:
			closeBlock()
		}
	}
	closeBlock()

	var best []line
	for _, b := range blocks {
		if len(b) > len(best) {
			best = b
		}
	}
	if best == nil {
		return nil
	}

	anchors := columnAnchors(best, tol)
	rows := make([][]string, 0, len(best))
	for _, l := range best {
		cells := make([]string, len(anchors))
		for _, f := range l.frags {
			col := columnFor(anchors, f.x, tol)
			if cells[col] == "" {
				cells[col] = f.text
			} else {
				cells[col] += " " + f.text
			}
		}
		rows = append(rows, cells)
	}
	return rows
}

// columnAnchors clusters fragment starts of the tabular lines. Clusters seen
// on too few lines are folded into their left neighbour.
func columnAnchors(block []line, tol float64) []float64 {
	var xs []float64
	tabular := 0
	for _, l := range block {
		if len(l.frags) < 2 {
			continue
		}
		tabular++
		for _, f := range l.frags {
			xs = append(xs, f.x)
		}
	}
	sort.Float64s(xs)

	type cluster struct {
		start float64
		count int
	}
	var clusters []cluster
	for _, x := range xs {
		if n := len(clusters); n > 0 && x-clusters[n-1].start <= tol {
			clusters[n-1].count++
			continue
		}
		clusters = append(clusters, cluster{start: x, count: 1})
	}

	minSupport := max(1, tabular/4)
	anchors := make([]float64, 0, len(clusters))
	for i, c := range clusters {
		if i == 0 || c.count >= minSupport {
			anchors = append(anchors, c.start)
		}
	}
	return anchors
}

func columnFor(anchors []float64, x, tol float64) int {
	col := 0
	for i, a := range anchors {
		if a <= x+tol {
			col = i
		}
	}
	return col
}

// splitLayoutLine breaks a fixed-width text line into fragments separated by
// runs of two or more spaces.
func splitLayoutLine(s string) []fragment {
	runes := []rune(strings.TrimRight(s, " \t\r"))
	var (
		frags []fragment
		start = -1
		gap   = 0
	)
	flush := func(end int) {
		if start >= 0 {
			text := strings.TrimSpace(string(runes[start:end]))
			if text != "" {
				frags = append(frags, fragment{x: float64(start), text: text})
			}
		}
		start = -1
	}

	for i, r := range runes {
		if r == ' ' || r == '\t' {
			gap++
			continue
		}
		if start >= 0 && gap >= 2 {
			flush(i - gap)
		}
		if start < 0 {
			start = i
		}
		gap = 0
	}
	flush(len(runes))
	return frags
}
