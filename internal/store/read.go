package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/prepchain/internal/ir"
)

// GetStep retrieves a single step by id.
// Returns ErrNotFound if absent.
func (s *Store) GetStep(ctx context.Context, id string) (ir.Step, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, dataset_id, actions, created_at, created_by, ir_version
		FROM steps
		WHERE id = ?
	`, id)

	var (
		step        ir.Step
		parentID    sql.NullString
		datasetID   sql.NullString
		actionsJSON string
		createdAt   int64
	)
	err := row.Scan(&step.ID, &parentID, &datasetID, &actionsJSON, &createdAt, &step.CreatedBy, &step.IRVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Step{}, fmt.Errorf("read step %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Step{}, fmt.Errorf("read step %s: %w", id, err)
	}

	step.ParentID = parentID.String
	step.DatasetID = datasetID.String
	step.CreatedAt = fromNanos(createdAt)
	step.Actions, err = unmarshalActions(actionsJSON)
	if err != nil {
		return ir.Step{}, fmt.Errorf("read step %s: %w", id, err)
	}
	return step, nil
}

const preparationColumns = `id, dataset_id, head, name, owner, lock_holder, lock_acquired_at, created_at, updated_at`

// GetPreparation retrieves a preparation by id.
// Returns ErrNotFound if absent.
func (s *Store) GetPreparation(ctx context.Context, id string) (ir.Preparation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+preparationColumns+`
		FROM preparations
		WHERE id = ?
	`, id)

	prep, err := scanPreparation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Preparation{}, fmt.Errorf("read preparation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Preparation{}, fmt.Errorf("read preparation %s: %w", id, err)
	}
	return prep, nil
}

// ListPreparations returns preparations with deterministic ordering:
// ORDER BY created_at ASC, id ASC COLLATE BINARY.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListPreparations(ctx context.Context, datasetID string) ([]ir.Preparation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if datasetID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+preparationColumns+`
			FROM preparations
			ORDER BY created_at ASC, id COLLATE BINARY ASC
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+preparationColumns+`
			FROM preparations
			WHERE dataset_id = ?
			ORDER BY created_at ASC, id COLLATE BINARY ASC
		`, datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("query preparations: %w", err)
	}
	defer rows.Close()

	preps := []ir.Preparation{}
	for rows.Next() {
		prep, err := scanPreparation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preparation: %w", err)
		}
		preps = append(preps, prep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preparations: %w", err)
	}
	return preps, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPreparation(row scanner) (ir.Preparation, error) {
	var (
		prep       ir.Preparation
		holder     sql.NullString
		acquiredAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(
		&prep.ID,
		&prep.DatasetID,
		&prep.Head,
		&prep.Name,
		&prep.Owner,
		&holder,
		&acquiredAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return ir.Preparation{}, err
	}
	prep.CreatedAt = fromNanos(createdAt)
	prep.UpdatedAt = fromNanos(updatedAt)
	if holder.Valid {
		prep.Lock = &ir.Lock{Holder: holder.String, AcquiredAt: fromNanos(acquiredAt.Int64)}
	}
	return prep, nil
}
