package service

import "github.com/google/uuid"

// IDGenerator mints preparation ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids, so preparation ids
// sort by creation time. Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
