package ir

import "maps"

// Untagged marks a row that has no original sample index, i.e. a row an
// action invented rather than derived from an input row.
const Untagged = 0

// Row is one dataset record keyed by column id.
//
// Tag is the 1-based index of the sample row this row descends from. It is
// the provenance tag the preview diff aligns on, so transformations must
// derive output rows with Clone (which keeps the tag) and build brand-new
// rows with a zero Tag.
type Row struct {
	Tag    int               `json:"tag,omitempty"`
	Values map[string]string `json:"values"`
}

// Get returns the value of a column, or "" when absent.
func (r Row) Get(column string) string {
	return r.Values[column]
}

// Clone returns a deep copy carrying the same provenance tag.
func (r Row) Clone() Row {
	return Row{Tag: r.Tag, Values: maps.Clone(r.Values)}
}

// With returns a copy with one column set.
func (r Row) With(column, value string) Row {
	out := r.Clone()
	if out.Values == nil {
		out.Values = make(map[string]string, 1)
	}
	out.Values[column] = value
	return out
}

// Column describes one column of a dataset or a pipeline's output.
type Column struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Column type names used by the built-in catalog.
const (
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeInteger = "integer"
)

// CloneColumns copies a column list.
func CloneColumns(cols []Column) []Column {
	if cols == nil {
		return nil
	}
	out := make([]Column, len(cols))
	copy(out, cols)
	return out
}
