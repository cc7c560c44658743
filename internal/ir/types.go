package ir

import "time"

// Step is an immutable node in a preparation's version chain.
//
// ID is the content address of (ParentID, Actions). CreatedAt and CreatedBy
// are audit fields: they are stored with the step but excluded from its
// identity, so the first writer's values win when two users create the same
// step.
type Step struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"` // Empty only for origin steps
	DatasetID string    `json:"dataset_id,omitempty"` // Set only for origin steps
	Actions   []Action  `json:"actions"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	IRVersion string    `json:"ir_version"`
}

// IsOrigin reports whether the step is a chain root.
func (s Step) IsOrigin() bool {
	return s.ParentID == ""
}

// Preparation is the mutable envelope that pins one path through the
// step forest via Head.
type Preparation struct {
	ID        string    `json:"id"`
	DatasetID string    `json:"dataset_id"`
	Head      string    `json:"head"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Lock      *Lock     `json:"lock,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lock records which user currently holds a preparation's edit lock.
type Lock struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// HeadRef is the step alias that resolves to a preparation's current head.
const HeadRef = "head"
