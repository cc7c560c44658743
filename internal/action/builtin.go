package action

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
)

// Parameter names shared by the built-in catalog.
const (
	ParamColumnID          = "column_id"
	ParamDefaultValue      = "default_value"
	ParamNewName           = "new_name"
	ParamNewType           = "new_type"
	ParamValue             = "value"
	ParamSeparator         = "separator"
	ParamValues            = "values"
	ParamLookupDatasetID   = "lookup_ds_id"
	ParamLookupColumnID    = "lookup_column_id"
	ParamLookupValueColumn = "lookup_value_column"
	ParamNewColumnID       = "new_column_id"
)

// Lookup is the action that joins values from another dataset.
const Lookup = "lookup"

// NewBuiltinRegistry returns a registry holding the built-in catalog.
func NewBuiltinRegistry(env Env) *Registry {
	r := NewRegistry(env)
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins adds the built-in catalog to r.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(Spec{
		Name:        "negate",
		Description: "Flip true/false values of a boolean column",
		Required:    []string{ParamColumnID},
		New:         newNegate,
	})
	r.MustRegister(Spec{
		Name:        "fillinvalidboolean",
		Description: "Replace values that are not true/false with a default",
		Required:    []string{ParamColumnID},
		Optional:    []string{ParamDefaultValue},
		New:         newFillInvalidBoolean,
	})
	r.MustRegister(Spec{
		Name:        "uppercase",
		Description: "Upper-case a column",
		Required:    []string{ParamColumnID},
		New:         newUppercase,
	})
	r.MustRegister(Spec{
		Name:        "rename_column",
		Description: "Rename a column",
		Required:    []string{ParamColumnID, ParamNewName},
		New:         newRenameColumn,
	})
	r.MustRegister(Spec{
		Name:        "change_type",
		Description: "Change the declared type of a column",
		Required:    []string{ParamColumnID, ParamNewType},
		New:         newChangeType,
	})
	r.MustRegister(Spec{
		Name:        "delete_lines",
		Description: "Delete rows whose column equals a value",
		Required:    []string{ParamColumnID},
		Optional:    []string{ParamValue},
		New:         newDeleteLines,
	})
	r.MustRegister(Spec{
		Name:        "deduplicate",
		Description: "Keep the first of identical rows",
		New:         newDeduplicate,
	})
	r.MustRegister(Spec{
		Name:        "split_rows",
		Description: "Split a column on a separator, one row per part",
		Required:    []string{ParamColumnID, ParamSeparator},
		New:         newSplitRows,
	})
	r.MustRegister(Spec{
		Name:        "add_row",
		Description: "Insert one row (col=value;...) before the first row",
		Optional:    []string{ParamValues},
		New:         newAddRow,
	})
	r.MustRegister(Spec{
		Name:         Lookup,
		Description:  "Add a column looked up from another dataset",
		Required:     []string{ParamLookupDatasetID, ParamColumnID, ParamLookupColumnID, ParamLookupValueColumn},
		Optional:     []string{ParamNewColumnID},
		DatasetParam: ParamLookupDatasetID,
		New:          newLookup,
	})
}

func invalid(format string, args ...any) error {
	return &ir.Error{Code: ir.CodeInvalidAction, Message: fmt.Sprintf(format, args...)}
}

func requireColumn(cols []ir.Column, id string) (int, error) {
	i := slices.IndexFunc(cols, func(c ir.Column) bool { return c.ID == id })
	if i < 0 {
		return -1, invalid("unknown column %q", id)
	}
	return i, nil
}

// columnMapper is embedded by transformers that only touch row values.
type columnMapper struct {
	column string
}

func (m columnMapper) Columns(in []ir.Column) ([]ir.Column, error) {
	if _, err := requireColumn(in, m.column); err != nil {
		return nil, err
	}
	return ir.CloneColumns(in), nil
}

// valueFunc rewrites a single column of every row.
type valueFunc struct {
	columnMapper
	fn func(string) string
}

func (v valueFunc) Apply(row ir.Row) ([]ir.Row, error) {
	if _, ok := row.Values[v.column]; !ok {
		return []ir.Row{row.Clone()}, nil
	}
	return []ir.Row{row.With(v.column, v.fn(row.Get(v.column)))}, nil
}

func parseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func newNegate(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	return valueFunc{columnMapper{p[ParamColumnID]}, func(s string) string {
		b, ok := parseBool(s)
		if !ok {
			return s
		}
		if b {
			return "false"
		}
		return "true"
	}}, nil
}

func newFillInvalidBoolean(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	def := p[ParamDefaultValue]
	if def == "" {
		def = "false"
	}
	if _, ok := parseBool(def); !ok {
		return nil, invalid("default_value %q is not a boolean", def)
	}
	def = strings.ToLower(def)
	return valueFunc{columnMapper{p[ParamColumnID]}, func(s string) string {
		if _, ok := parseBool(s); ok {
			return s
		}
		return def
	}}, nil
}

func newUppercase(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	return valueFunc{columnMapper{p[ParamColumnID]}, strings.ToUpper}, nil
}

// columnEdit changes column metadata and leaves rows alone.
type columnEdit struct {
	column string
	edit   func(*ir.Column)
}

func (c columnEdit) Columns(in []ir.Column) ([]ir.Column, error) {
	i, err := requireColumn(in, c.column)
	if err != nil {
		return nil, err
	}
	out := ir.CloneColumns(in)
	c.edit(&out[i])
	return out, nil
}

func (c columnEdit) Apply(row ir.Row) ([]ir.Row, error) {
	return []ir.Row{row.Clone()}, nil
}

func newRenameColumn(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	name := p[ParamNewName]
	return columnEdit{p[ParamColumnID], func(c *ir.Column) { c.Name = name }}, nil
}

func newChangeType(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	typ := p[ParamNewType]
	switch typ {
	case ir.TypeString, ir.TypeBoolean, ir.TypeInteger:
	default:
		return nil, invalid("unsupported column type %q", typ)
	}
	return columnEdit{p[ParamColumnID], func(c *ir.Column) { c.Type = typ }}, nil
}

type deleteLines struct {
	columnMapper
	value string
}

func (d deleteLines) Apply(row ir.Row) ([]ir.Row, error) {
	if row.Get(d.column) == d.value {
		return nil, nil
	}
	return []ir.Row{row.Clone()}, nil
}

func newDeleteLines(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	return deleteLines{columnMapper{p[ParamColumnID]}, p[ParamValue]}, nil
}

// deduplicate remembers every row it has emitted during one run.
type deduplicate struct {
	seen map[string]struct{}
}

func (d *deduplicate) Columns(in []ir.Column) ([]ir.Column, error) {
	return ir.CloneColumns(in), nil
}

func (d *deduplicate) Apply(row ir.Row) ([]ir.Row, error) {
	key, err := ir.MarshalCanonical(ir.StringMap(row.Values))
	if err != nil {
		return nil, err
	}
	if _, dup := d.seen[string(key)]; dup {
		return nil, nil
	}
	d.seen[string(key)] = struct{}{}
	return []ir.Row{row.Clone()}, nil
}

func newDeduplicate(context.Context, map[string]string, Env) (Transformer, error) {
	return &deduplicate{seen: map[string]struct{}{}}, nil
}

type splitRows struct {
	columnMapper
	sep string
}

func (s splitRows) Apply(row ir.Row) ([]ir.Row, error) {
	parts := strings.Split(row.Get(s.column), s.sep)
	out := make([]ir.Row, len(parts))
	for i, part := range parts {
		out[i] = row.With(s.column, part)
	}
	return out, nil
}

func newSplitRows(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	return splitRows{columnMapper{p[ParamColumnID]}, p[ParamSeparator]}, nil
}

// addRow emits its row, untagged, ahead of the first input row.
type addRow struct {
	values map[string]string
	done   bool
}

func (a *addRow) Columns(in []ir.Column) ([]ir.Column, error) {
	for id := range a.values {
		if _, err := requireColumn(in, id); err != nil {
			return nil, err
		}
	}
	return ir.CloneColumns(in), nil
}

func (a *addRow) Apply(row ir.Row) ([]ir.Row, error) {
	if a.done {
		return []ir.Row{row.Clone()}, nil
	}
	a.done = true
	added := ir.Row{Tag: ir.Untagged, Values: map[string]string{}}
	for k := range row.Values {
		added.Values[k] = ""
	}
	for k, v := range a.values {
		added.Values[k] = v
	}
	return []ir.Row{added, row.Clone()}, nil
}

// ParseValues parses "col=value;col=value" as used by add_row.
func ParseValues(s string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, invalid("malformed value pair %q", pair)
		}
		out[k] = v
	}
	return out, nil
}

func newAddRow(_ context.Context, p map[string]string, _ Env) (Transformer, error) {
	values, err := ParseValues(p[ParamValues])
	if err != nil {
		return nil, err
	}
	return &addRow{values: values}, nil
}

// lookup joins one column of another dataset on a key column.
type lookup struct {
	column    string
	newColumn ir.Column
	index     map[string]string
}

func (l *lookup) Columns(in []ir.Column) ([]ir.Column, error) {
	if _, err := requireColumn(in, l.column); err != nil {
		return nil, err
	}
	out := ir.CloneColumns(in)
	if slices.ContainsFunc(out, func(c ir.Column) bool { return c.ID == l.newColumn.ID }) {
		return nil, invalid("lookup column %q already exists", l.newColumn.ID)
	}
	return append(out, l.newColumn), nil
}

func (l *lookup) Apply(row ir.Row) ([]ir.Row, error) {
	return []ir.Row{row.With(l.newColumn.ID, l.index[row.Get(l.column)])}, nil
}

func newLookup(ctx context.Context, p map[string]string, env Env) (Transformer, error) {
	if env.Datasets == nil {
		return nil, invalid("lookup needs a dataset source")
	}
	dsID := p[ParamLookupDatasetID]
	sample, err := env.Datasets.Sample(ctx, dsID, 0)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) || ir.CodeOf(err) == "" {
			return nil, ir.NewDatasetUnavailable(dsID, err)
		}
		return nil, err
	}

	keyCol, valueCol := p[ParamLookupColumnID], p[ParamLookupValueColumn]
	if _, err := requireColumn(sample.Columns, keyCol); err != nil {
		return nil, err
	}
	vi, err := requireColumn(sample.Columns, valueCol)
	if err != nil {
		return nil, err
	}

	index := make(map[string]string, len(sample.Rows))
	for _, r := range sample.Rows {
		k := r.Get(keyCol)
		if _, dup := index[k]; !dup {
			index[k] = r.Get(valueCol)
		}
	}

	newID := p[ParamNewColumnID]
	if newID == "" {
		newID = dsID + "." + valueCol
	}
	col := sample.Columns[vi]
	col.ID = newID
	return &lookup{column: p[ParamColumnID], newColumn: col, index: index}, nil
}
