package preview

import (
	"fmt"

	"github.com/roach88/prepchain/internal/action"
	"github.com/roach88/prepchain/internal/ir"
)

// pipeline is one compiled action list, pushed one input row at a time.
type pipeline struct {
	steps   []action.Transformer
	columns []ir.Column
}

func newPipeline(steps []action.Transformer, in []ir.Column) (*pipeline, error) {
	cols := ir.CloneColumns(in)
	for i, t := range steps {
		next, err := t.Columns(cols)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		cols = next
	}
	return &pipeline{steps: steps, columns: cols}, nil
}

// push runs row through every step and returns what comes out the end.
func (p *pipeline) push(row ir.Row) ([]ir.Row, error) {
	rows := []ir.Row{row}
	for i, t := range p.steps {
		var next []ir.Row
		for _, r := range rows {
			out, err := t.Apply(r)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			next = append(next, out...)
		}
		rows = next
		if len(rows) == 0 {
			break
		}
	}
	return rows, nil
}
