package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/prepchain/internal/ir"
)

// marshalActions converts an action list to canonical JSON TEXT.
// Uses the same RFC 8785 encoding as the content address, so the stored
// text is exactly what the step id was computed over.
func marshalActions(actions []ir.Action) (string, error) {
	data, err := ir.MarshalCanonical(ir.ActionsToIR(actions))
	if err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(data), nil
}

// unmarshalActions parses canonical JSON TEXT back to an action list.
// Returns an empty slice (not nil) for an empty list.
func unmarshalActions(data string) ([]ir.Action, error) {
	actions := []ir.Action{}
	if data == "" || data == "[]" {
		return actions, nil
	}
	if err := json.Unmarshal([]byte(data), &actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	for i := range actions {
		if actions[i].Parameters == nil {
			actions[i].Parameters = map[string]string{}
		}
	}
	return actions, nil
}

// Timestamps are stored as INTEGER unix nanoseconds in UTC.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
