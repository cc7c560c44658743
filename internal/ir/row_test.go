package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowCloneKeepsTag(t *testing.T) {
	r := Row{Tag: 3, Values: map[string]string{"0001": "a"}}
	c := r.Clone()
	c.Values["0001"] = "b"

	assert.Equal(t, 3, c.Tag)
	assert.Equal(t, "a", r.Get("0001"))
}

func TestRowWith(t *testing.T) {
	r := Row{Tag: 1}
	w := r.With("0001", "x")

	assert.Equal(t, "x", w.Get("0001"))
	assert.Equal(t, "", r.Get("0001"))
	assert.Equal(t, 1, w.Tag)
}
