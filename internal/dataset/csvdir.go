package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/prepchain/internal/ir"
)

// CSVDir serves datasets from <dir>/<id>.csv.
//
// The header row names the columns. A header cell may carry a type suffix
// ("amount:integer"); without one the column is a string. Column ids are
// assigned positionally as zero-padded indexes ("0000", "0001", ...), so
// actions reference columns by position-stable ids rather than names.
type CSVDir struct {
	dir string
}

// NewCSVDir creates a CSVDir rooted at dir.
func NewCSVDir(dir string) *CSVDir {
	return &CSVDir{dir: dir}
}

// ColumnID returns the id CSVDir assigns to the column at index i.
func ColumnID(i int) string {
	return fmt.Sprintf("%04d", i)
}

func (d *CSVDir) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid dataset id %q", id)
	}
	return filepath.Join(d.dir, id+".csv"), nil
}

// Exists implements Source.
func (d *CSVDir) Exists(_ context.Context, id string) (bool, error) {
	p, err := d.path(id)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat dataset %s: %w", id, err)
	}
	return info.Mode().IsRegular(), nil
}

// Sample implements Source. Only the first limit data rows are read.
func (d *CSVDir) Sample(ctx context.Context, id string, limit int) (Sample, error) {
	p, err := d.path(id)
	if err != nil {
		return Sample{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Sample{}, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Sample{}, fmt.Errorf("open dataset %s: %w", id, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Sample{Columns: []ir.Column{}, Rows: []ir.Row{}}, nil
	}
	if err != nil {
		return Sample{}, fmt.Errorf("read header of %s: %w", id, err)
	}

	columns := make([]ir.Column, len(header))
	for i, cell := range header {
		name, typ, ok := strings.Cut(strings.TrimSpace(cell), ":")
		if !ok || typ == "" {
			typ = ir.TypeString
		}
		columns[i] = ir.Column{ID: ColumnID(i), Name: name, Type: typ}
	}

	rows := []ir.Row{}
	for limit <= 0 || len(rows) < limit {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Sample{}, fmt.Errorf("read %s: %w", id, err)
		}
		values := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				values[col.ID] = record[i]
			} else {
				values[col.ID] = ""
			}
		}
		rows = append(rows, ir.Row{Values: values})
	}
	return Sample{Columns: columns, Rows: rows}, nil
}
