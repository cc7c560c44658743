package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes chain and preview failures.
type ErrorCode string

const (
	// CodeStepNotFound: the step id is unknown or not on the requested chain.
	CodeStepNotFound ErrorCode = "STEP_NOT_FOUND"

	// CodeChainCorruption: a parent link is missing or the chain loops.
	CodeChainCorruption ErrorCode = "CHAIN_CORRUPTION"

	// CodeInvalidStepPosition: the edit targets or moves past the origin.
	CodeInvalidStepPosition ErrorCode = "INVALID_STEP_POSITION"

	// CodePreparationHasSteps: copy-steps-from target already has steps.
	CodePreparationHasSteps ErrorCode = "PREPARATION_HAS_STEPS"

	// CodeConcurrentEditConflict: the edit lock is held by another user.
	CodeConcurrentEditConflict ErrorCode = "CONCURRENT_EDIT_CONFLICT"

	// CodeInvalidHeadStep: the candidate head references a missing dataset.
	CodeInvalidHeadStep ErrorCode = "INVALID_HEAD_STEP"

	// CodeDatasetUnavailable: the dataset collaborator could not serve rows.
	CodeDatasetUnavailable ErrorCode = "DATASET_UNAVAILABLE"

	// CodePreparationNotFound: no preparation with the given id.
	CodePreparationNotFound ErrorCode = "PREPARATION_NOT_FOUND"

	// CodeStaleHead: the head moved between read and write.
	CodeStaleHead ErrorCode = "STALE_HEAD"

	// CodeUnknownAction: no transformer is registered under the name.
	CodeUnknownAction ErrorCode = "UNKNOWN_ACTION"

	// CodeInvalidAction: the action is malformed or its parameters are bad.
	CodeInvalidAction ErrorCode = "INVALID_ACTION"

	// CodePreviewBudgetExceeded: the preview ran out of time.
	CodePreviewBudgetExceeded ErrorCode = "PREVIEW_BUDGET_EXCEEDED"
)

// Error is the structured error returned by every chain operation.
// Match on codes with errors.Is against the sentinels below, or IsCode.
type Error struct {
	Code          ErrorCode
	Message       string
	PreparationID string
	StepID        string
	DatasetID     string
	Err           error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.PreparationID != "" && e.StepID != "":
		msg = fmt.Sprintf("%s (preparation=%s, step=%s)", msg, e.PreparationID, e.StepID)
	case e.PreparationID != "":
		msg = fmt.Sprintf("%s (preparation=%s)", msg, e.PreparationID)
	case e.StepID != "":
		msg = fmt.Sprintf("%s (step=%s)", msg, e.StepID)
	case e.DatasetID != "":
		msg = fmt.Sprintf("%s (dataset=%s)", msg, e.DatasetID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two *Error values by code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrStepNotFound           = &Error{Code: CodeStepNotFound, Message: "step not found"}
	ErrChainCorruption        = &Error{Code: CodeChainCorruption, Message: "chain corruption"}
	ErrInvalidStepPosition    = &Error{Code: CodeInvalidStepPosition, Message: "invalid step position"}
	ErrPreparationHasSteps    = &Error{Code: CodePreparationHasSteps, Message: "preparation has steps"}
	ErrConcurrentEditConflict = &Error{Code: CodeConcurrentEditConflict, Message: "preparation locked by another user"}
	ErrInvalidHeadStep        = &Error{Code: CodeInvalidHeadStep, Message: "head step depends on a deleted dataset"}
	ErrDatasetUnavailable     = &Error{Code: CodeDatasetUnavailable, Message: "dataset unavailable"}
	ErrPreparationNotFound    = &Error{Code: CodePreparationNotFound, Message: "preparation not found"}
	ErrStaleHead              = &Error{Code: CodeStaleHead, Message: "preparation head changed concurrently"}
	ErrUnknownAction          = &Error{Code: CodeUnknownAction, Message: "unknown action"}
	ErrInvalidAction          = &Error{Code: CodeInvalidAction, Message: "invalid action"}
	ErrPreviewBudgetExceeded  = &Error{Code: CodePreviewBudgetExceeded, Message: "preview budget exceeded"}
)

// CodeOf extracts the error code, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err (or anything it wraps) carries code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// NewStepNotFound reports a step that is unknown or off-chain.
func NewStepNotFound(prepID, stepID string) *Error {
	return &Error{Code: CodeStepNotFound, Message: "step not found", PreparationID: prepID, StepID: stepID}
}

// NewPreparationNotFound reports an unknown preparation.
func NewPreparationNotFound(prepID string) *Error {
	return &Error{Code: CodePreparationNotFound, Message: "preparation not found", PreparationID: prepID}
}

// NewChainCorruption reports a broken parent link or a loop.
func NewChainCorruption(stepID, message string) *Error {
	return &Error{Code: CodeChainCorruption, Message: message, StepID: stepID}
}

// NewInvalidStepPosition reports an edit that touches the origin.
func NewInvalidStepPosition(prepID, stepID, message string) *Error {
	return &Error{Code: CodeInvalidStepPosition, Message: message, PreparationID: prepID, StepID: stepID}
}

// NewConcurrentEditConflict reports a lock held by someone else.
func NewConcurrentEditConflict(prepID, holder string) *Error {
	return &Error{
		Code:          CodeConcurrentEditConflict,
		Message:       fmt.Sprintf("preparation is locked by %q", holder),
		PreparationID: prepID,
	}
}

// NewDatasetUnavailable wraps a dataset collaborator failure.
func NewDatasetUnavailable(datasetID string, err error) *Error {
	return &Error{Code: CodeDatasetUnavailable, Message: "dataset unavailable", DatasetID: datasetID, Err: err}
}
