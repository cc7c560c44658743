package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("update step: %w", NewStepNotFound("prep-1", "abc"))

	assert.True(t, errors.Is(err, ErrStepNotFound))
	assert.False(t, errors.Is(err, ErrChainCorruption))
	assert.Equal(t, CodeStepNotFound, CodeOf(err))
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := NewStepNotFound("prep-1", "abc")
	assert.Equal(t, "STEP_NOT_FOUND: step not found (preparation=prep-1, step=abc)", err.Error())

	wrapped := NewDatasetUnavailable("d1", errors.New("connection refused"))
	assert.Equal(t, "DATASET_UNAVAILABLE: dataset unavailable (dataset=d1): connection refused", wrapped.Error())
	assert.ErrorContains(t, errors.Unwrap(wrapped), "connection refused")
}

func TestCodeOfNonStructuredError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.False(t, IsCode(nil, CodeStepNotFound))
}

func TestConcurrentEditConflictMessage(t *testing.T) {
	err := NewConcurrentEditConflict("prep-1", "alice")
	assert.True(t, errors.Is(err, ErrConcurrentEditConflict))
	assert.Contains(t, err.Error(), `locked by "alice"`)
}
