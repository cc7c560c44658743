package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("PREPARATION_NOT_FOUND", "preparation not found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "PREPARATION_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "preparation not found", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"preparation_id": "prep-1", "step_id": "abc"}
	err := formatter.Error("STEP_NOT_FOUND", "step not found", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("prep-1: head at abc")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "prep-1: head at abc")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("PREPARATION_NOT_FOUND", "preparation not found", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [PREPARATION_NOT_FOUND]")
	assert.Contains(t, buf.String(), "preparation not found")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"preparation_id": "prep-1"}
	err := formatter.Error("PREPARATION_NOT_FOUND", "preparation not found", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [PREPARATION_NOT_FOUND]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "prep-1")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Processing prep-1")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   map[string]int{"count": 42},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    "INVALID_ACTION",
		Message: "validation failed",
		Details: []string{"action name is required"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_ACTION", decoded.Code)
	assert.Equal(t, "validation failed", decoded.Message)
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}

	require.NoError(t, formatter.Error("STALE_HEAD", "head moved", nil))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [STALE_HEAD]: head moved")
}

func TestOutputFormatter_TextSuccessNil(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(nil))
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := ir.NewStepNotFound("prep-1", "abc")
	err := formatter.Fail(fmt.Errorf("update: %w", cause))

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.True(t, exitErr.Reported)
	assert.Equal(t, ExitNotFound, exitErr.Code)
	assert.ErrorIs(t, err, ir.ErrStepNotFound)

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "STEP_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, map[string]string{"preparation_id": "prep-1", "step_id": "abc"}, resp.Error.Details)
}

func TestOutputFormatter_FailPlainError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Fail(errors.New("boom"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NotContains(t, buf.String(), "details")
	assert.Contains(t, buf.String(), `"code":"ERROR"`)
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"lock_conflict", ir.NewConcurrentEditConflict("p", "alice"), ExitConflict},
		{"stale_head", ir.ErrStaleHead, ExitConflict},
		{"prep_not_found", ir.NewPreparationNotFound("p"), ExitNotFound},
		{"step_not_found", ir.NewStepNotFound("p", "s"), ExitNotFound},
		{"dataset_unavailable", ir.NewDatasetUnavailable("d", errors.New("gone")), ExitNotFound},
		{"invalid_action", ir.ErrInvalidAction, ExitFailure},
		{"has_steps", ir.ErrPreparationHasSteps, ExitFailure},
		{"plain", errors.New("disk full"), ExitCommandError},
		{"explicit", NewExitError(ExitFailure, "scenario failed"), ExitFailure},
		{"wrapped_explicit", fmt.Errorf("x: %w", WrapExitError(ExitConflict, "y", nil)), ExitConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitNotFound, GetExitCode(NewExitError(ExitNotFound, "missing")))
}
