package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("p")
	assert.Equal(t, "p-1", g.Generate())
	assert.Equal(t, "p-2", g.Generate())
}

func TestSequenceIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "prep-1", NewSequenceIDs("").Generate())
}
