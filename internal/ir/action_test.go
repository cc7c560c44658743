package ir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActionPanicsOnOddArgs(t *testing.T) {
	assert.Panics(t, func() { NewAction("negate", "column_id") })
}

func TestActionEqual(t *testing.T) {
	a := NewAction("negate", "column_id", "0001")

	assert.True(t, a.Equal(a.Clone()))
	assert.False(t, a.Equal(NewAction("negate", "column_id", "0002")))
	assert.False(t, a.Equal(NewAction("uppercase", "column_id", "0001")))
	assert.True(t, Action{Name: "x"}.Equal(Action{Name: "x", Parameters: map[string]string{}}))
}

func TestActionCloneIsDeep(t *testing.T) {
	a := NewAction("negate", "column_id", "0001")
	b := a.Clone()
	b.Parameters["column_id"] = "0009"

	assert.Equal(t, "0001", a.Parameters["column_id"])
}

func TestActionValidate(t *testing.T) {
	require.NoError(t, NewAction("negate", "column_id", "0001").Validate())

	err := Action{Name: "  "}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAction))

	err = Action{Name: "x", Parameters: map[string]string{"": "v"}}.Validate()
	assert.True(t, IsCode(err, CodeInvalidAction))
}

func TestActionValidateUnicodeForms(t *testing.T) {
	// Decomposed values are data and stay valid.
	require.NoError(t, NewAction("replace", "value", "cafe\u0301").Validate())

	err := Action{Name: "x", Parameters: map[string]string{"cafe\u0301": "v"}}.Validate()
	assert.True(t, IsCode(err, CodeInvalidAction))

	err = Action{Name: "nai\u0308ve"}.Validate()
	assert.True(t, IsCode(err, CodeInvalidAction))
}

func TestActionString(t *testing.T) {
	a := NewAction("negate", "column_id", "0001")
	assert.Equal(t, `negate{"column_id":"0001"}`, a.String())
}

func TestActionsEqual(t *testing.T) {
	a := []Action{NewAction("negate", "column_id", "0001")}

	assert.True(t, ActionsEqual(a, CloneActions(a)))
	assert.False(t, ActionsEqual(a, nil))
	assert.True(t, ActionsEqual(nil, []Action{}))
}
