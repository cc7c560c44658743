package preview

import (
	"fmt"
	"io"
	"maps"

	"github.com/roach88/prepchain/internal/ir"
)

// Kind classifies one aligned pair of rows or columns.
type Kind string

const (
	KindUnchanged Kind = "unchanged"
	KindUpdated   Kind = "updated"
	KindDeleted   Kind = "deleted"
	KindCreated   Kind = "created"
)

// RowDiff is one record of the diff stream. Before is nil for created
// rows and After is nil for deleted rows.
type RowDiff struct {
	Kind   Kind    `json:"kind"`
	Tag    int     `json:"tag"`
	Before *ir.Row `json:"before,omitempty"`
	After  *ir.Row `json:"after,omitempty"`
}

// ColumnDiff reports a column whose metadata differs between the two
// pipelines' outputs. Unchanged columns are not reported.
type ColumnDiff struct {
	Kind   Kind       `json:"kind"`
	ID     string     `json:"id"`
	Before *ir.Column `json:"before,omitempty"`
	After  *ir.Column `json:"after,omitempty"`
}

// alignRows classifies the outputs both pipelines produced for one input
// row. Rows are grouped by tag and paired by position inside a group, in
// the order groups first appear on the candidate side, then baseline-only
// groups. Unpaired baseline rows are deleted and unpaired candidate rows
// are created. Untagged rows carry no lineage, so they pair by value
// instead of position (see alignUntagged).
func alignRows(base, cand []ir.Row) []RowDiff {
	var order []int
	groups := map[int]*[2][]ir.Row{}
	add := func(side int, r ir.Row) {
		g, ok := groups[r.Tag]
		if !ok {
			g = &[2][]ir.Row{}
			groups[r.Tag] = g
			order = append(order, r.Tag)
		}
		g[side] = append(g[side], r)
	}
	for _, r := range cand {
		add(1, r)
	}
	for _, r := range base {
		add(0, r)
	}

	var out []RowDiff
	for _, tag := range order {
		b, c := groups[tag][0], groups[tag][1]
		if tag == ir.Untagged {
			out = append(out, alignUntagged(b, c)...)
			continue
		}
		n := min(len(b), len(c))
		for i := range n {
			out = append(out, pairRows(tag, b[i], c[i])...)
		}
		for _, r := range b[n:] {
			out = append(out, RowDiff{Kind: KindDeleted, Tag: tag, Before: &r})
		}
		for _, r := range c[n:] {
			out = append(out, RowDiff{Kind: KindCreated, Tag: tag, After: &r})
		}
	}
	return out
}

func pairRows(tag int, b, c ir.Row) []RowDiff {
	if maps.Equal(b.Values, c.Values) {
		return []RowDiff{{Kind: KindUnchanged, Tag: tag, Before: &b, After: &c}}
	}
	return []RowDiff{{Kind: KindUpdated, Tag: tag, Before: &b, After: &c}}
}

// alignUntagged matches each baseline row to the first unused candidate
// row with equal values. Matches are unchanged, other baseline rows are
// deleted, and candidate rows left over are created. An untagged row is
// never reported as updated.
func alignUntagged(base, cand []ir.Row) []RowDiff {
	used := make([]bool, len(cand))
	var out []RowDiff
	for _, b := range base {
		j := -1
		for i, c := range cand {
			if !used[i] && maps.Equal(b.Values, c.Values) {
				j = i
				break
			}
		}
		if j < 0 {
			out = append(out, RowDiff{Kind: KindDeleted, Tag: ir.Untagged, Before: &b})
			continue
		}
		used[j] = true
		c := cand[j]
		out = append(out, RowDiff{Kind: KindUnchanged, Tag: ir.Untagged, Before: &b, After: &c})
	}
	for i, c := range cand {
		if !used[i] {
			out = append(out, RowDiff{Kind: KindCreated, Tag: ir.Untagged, After: &c})
		}
	}
	return out
}

// diffColumns compares two column lists by id: baseline order first, then
// columns only the candidate has.
func diffColumns(base, cand []ir.Column) []ColumnDiff {
	byID := make(map[string]ir.Column, len(cand))
	for _, c := range cand {
		byID[c.ID] = c
	}
	seen := make(map[string]bool, len(base))

	var out []ColumnDiff
	for _, b := range base {
		seen[b.ID] = true
		c, ok := byID[b.ID]
		switch {
		case !ok:
			out = append(out, ColumnDiff{Kind: KindDeleted, ID: b.ID, Before: &b})
		case c != b:
			out = append(out, ColumnDiff{Kind: KindUpdated, ID: b.ID, Before: &b, After: &c})
		}
	}
	for _, c := range cand {
		if !seen[c.ID] {
			out = append(out, ColumnDiff{Kind: KindCreated, ID: c.ID, After: &c})
		}
	}
	return out
}

// Render writes a line-oriented rendering of res to w, draining its row
// stream. The format is stable: CLI output and golden files use it.
func Render(w io.Writer, res *Result) error {
	if _, err := fmt.Fprintf(w, "dataset %s\n", res.DatasetID); err != nil {
		return err
	}
	for _, c := range res.ColumnDiffs {
		if _, err := fmt.Fprintln(w, FormatColumn(c)); err != nil {
			return err
		}
	}
	for d, err := range res.Rows {
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, FormatRow(d)); err != nil {
			return err
		}
	}
	return nil
}

// FormatColumn renders one column diff on a single line.
func FormatColumn(c ColumnDiff) string {
	col := func(c *ir.Column) string { return c.Name + ":" + c.Type }
	switch c.Kind {
	case KindCreated:
		return fmt.Sprintf("column %s %s %s", c.Kind, c.ID, col(c.After))
	case KindDeleted:
		return fmt.Sprintf("column %s %s %s", c.Kind, c.ID, col(c.Before))
	default:
		return fmt.Sprintf("column %s %s %s -> %s", c.Kind, c.ID, col(c.Before), col(c.After))
	}
}

// FormatRow renders one row diff on a single line, values in canonical
// JSON.
func FormatRow(d RowDiff) string {
	switch d.Kind {
	case KindUpdated:
		return fmt.Sprintf("row %d %s %s -> %s", d.Tag, d.Kind, values(d.Before), values(d.After))
	case KindDeleted:
		return fmt.Sprintf("row %d %s %s", d.Tag, d.Kind, values(d.Before))
	default:
		return fmt.Sprintf("row %d %s %s", d.Tag, d.Kind, values(d.After))
	}
}

func values(r *ir.Row) string {
	data, err := ir.MarshalCanonical(ir.StringMap(r.Values))
	if err != nil {
		return fmt.Sprintf("%v", r.Values)
	}
	return string(data)
}
