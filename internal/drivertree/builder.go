package drivertree

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/vinodismyname/leverlab/internal/sheet"
)

// MaxLevel is the deepest level column recognised in a header.
const MaxLevel = 5

// Table is the decoded hierarchy sheet.
type Table = sheet.Table

var reLevelHeader = regexp.MustCompile(`(?i)^\s*level[\s_-]*(\d+)\s*$`)

type levelColumn struct {
	index int
	level int
}

// levelColumns returns the header positions labelled "level N" (0 <= N <=
// MaxLevel), sorted ascending by N.
func levelColumns(header []string) []levelColumn {
	var cols []levelColumn
	for i, h := range header {
		m := reLevelHeader.FindStringSubmatch(h)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 || n > MaxLevel {
			continue
		}
		cols = append(cols, levelColumn{index: i, level: n})
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].level < cols[j].level })
	return cols
}

// Build converts a hierarchy table into a deduplicated tree. Tables without
// level columns fall back to indentation-inferred depth in a single column.
func Build(tbl Table) *Tree {
	cols := levelColumns(tbl.Header)
	if len(cols) == 0 {
		return buildIndented(tbl)
	}

	// Levels are ranks among the level columns, so "Level 1..Level 3"
	// still roots at 0.
	t := New()
	for _, row := range tbl.Rows {
		var parent *Node
		for rank, col := range cols {
			name := sheet.Cell(row, col.index)
			if name == "" {
				break
			}
			parent, _ = t.Upsert(name, rank, parent)
		}
	}
	return t
}

var bullets = map[rune]bool{'-': true, '*': true, '•': true, '–': true, '·': true, '>': true}

// IndentDepth infers depth from leading tabs, pairs of spaces and bullet
// characters, and returns the label with all of them removed.
func IndentDepth(raw string) (int, string) {
	depth, spaces := 0, 0
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case '\t':
			depth++
			i++
			continue
		case ' ':
			spaces++
			i++
			continue
		}
		break
	}
	depth += spaces / 2
	rest := raw[i:]
	for len(rest) > 0 {
		r, size := utf8.DecodeRuneInString(rest)
		if bullets[r] {
			depth++
			rest = strings.TrimLeft(rest[size:], " \t")
			continue
		}
		break
	}
	return depth, strings.TrimSpace(rest)
}

// outlineLabels are header cells naming an outline column rather than
// being its first node.
var outlineLabels = map[string]bool{
	"hierarchy": true, "drivertree": true, "driver": true, "drivers": true,
	"name": true, "node": true, "nodes": true, "lineitem": true, "account": true,
}

func isOutlineLabel(s string) bool {
	return outlineLabels[strings.ToLower(strings.Join(strings.Fields(s), ""))]
}

// buildIndented reads the first column holding any value, inferring depth
// per row and tracking parents with a stack. The header cell is the first
// node unless it reads as a column label, since an outline pasted without
// a header row has its root there.
func buildIndented(tbl Table) *Tree {
	t := New()
	lines := tbl.Rows
	col := firstPopulatedColumn(tbl.Rows)
	if col < 0 {
		col = firstPopulatedColumn([][]string{tbl.Header})
	}
	if col < 0 {
		return t
	}
	if h := sheet.Cell(tbl.Header, col); h != "" && !isOutlineLabel(h) {
		lines = append([][]string{tbl.Header}, tbl.Rows...)
	}

	// Inferred depths may skip values; stored levels stay contiguous.
	type frame struct {
		node  *Node
		depth int
	}
	var stack []frame
	for _, row := range lines {
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		depth, name := IndentDepth(row[col])
		if name == "" {
			continue
		}
		for len(stack) > 0 && stack[len(stack)-1].depth >= depth {
			stack = stack[:len(stack)-1]
		}
		var parent *Node
		level := 0
		if len(stack) > 0 {
			parent = stack[len(stack)-1].node
			level = parent.Level + 1
		}
		n, _ := t.Upsert(name, level, parent)
		stack = append(stack, frame{node: n, depth: depth})
	}
	return t
}

func firstPopulatedColumn(rows [][]string) int {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	for c := 0; c < width; c++ {
		for _, r := range rows {
			if c < len(r) && strings.TrimSpace(r[c]) != "" {
				return c
			}
		}
	}
	return -1
}
