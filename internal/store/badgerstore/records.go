package badgerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/store"
)

const (
	stepPrefix = "step/"
	prepPrefix = "prep/"
)

func stepKey(id string) []byte { return []byte(stepPrefix + id) }
func prepKey(id string) []byte { return []byte(prepPrefix + id) }

// stepRecord is the on-disk form of a step. Times are unix nanoseconds so
// the encoding does not depend on time zone formatting.
type stepRecord struct {
	ID        string      `json:"id"`
	ParentID  string      `json:"parent_id,omitempty"`
	DatasetID string      `json:"dataset_id,omitempty"`
	Actions   []ir.Action `json:"actions"`
	CreatedAt int64       `json:"created_at"`
	CreatedBy string      `json:"created_by"`
	IRVersion string      `json:"ir_version"`
}

func toStepRecord(s ir.Step) stepRecord {
	actions := ir.CloneActions(s.Actions)
	if actions == nil {
		actions = []ir.Action{}
	}
	return stepRecord{
		ID:        s.ID,
		ParentID:  s.ParentID,
		DatasetID: s.DatasetID,
		Actions:   actions,
		CreatedAt: s.CreatedAt.UTC().UnixNano(),
		CreatedBy: s.CreatedBy,
		IRVersion: s.IRVersion,
	}
}

func (r stepRecord) step() ir.Step {
	for i := range r.Actions {
		if r.Actions[i].Parameters == nil {
			r.Actions[i].Parameters = map[string]string{}
		}
	}
	return ir.Step{
		ID:        r.ID,
		ParentID:  r.ParentID,
		DatasetID: r.DatasetID,
		Actions:   r.Actions,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		CreatedBy: r.CreatedBy,
		IRVersion: r.IRVersion,
	}
}

type prepRecord struct {
	ID             string `json:"id"`
	DatasetID      string `json:"dataset_id"`
	Head           string `json:"head"`
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	LockHolder     string `json:"lock_holder,omitempty"`
	LockAcquiredAt int64  `json:"lock_acquired_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

func toPrepRecord(p ir.Preparation) prepRecord {
	r := prepRecord{
		ID:        p.ID,
		DatasetID: p.DatasetID,
		Head:      p.Head,
		Name:      p.Name,
		Owner:     p.Owner,
		CreatedAt: p.CreatedAt.UTC().UnixNano(),
		UpdatedAt: p.UpdatedAt.UTC().UnixNano(),
	}
	if p.Lock != nil {
		r.LockHolder = p.Lock.Holder
		r.LockAcquiredAt = p.Lock.AcquiredAt.UTC().UnixNano()
	}
	return r
}

func (r prepRecord) preparation() ir.Preparation {
	p := ir.Preparation{
		ID:        r.ID,
		DatasetID: r.DatasetID,
		Head:      r.Head,
		Name:      r.Name,
		Owner:     r.Owner,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.LockHolder != "" {
		p.Lock = &ir.Lock{Holder: r.LockHolder, AcquiredAt: time.Unix(0, r.LockAcquiredAt).UTC()}
	}
	return p
}

// getJSON decodes the value at key into v, mapping a missing key to
// store.ErrNotFound.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
