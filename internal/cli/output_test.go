package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"resource_id": "<msg-123@cyberdyne.ai>"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)

	// Message-IDs are printed as written, not HTML-escaped.
	assert.Contains(t, buf.String(), "<msg-123@cyberdyne.ai>")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("STORAGE_ERROR", "ledger unavailable", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "STORAGE_ERROR", resp.Error.Code)
	assert.Equal(t, "ledger unavailable", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("ledger is empty")
	require.NoError(t, err)
	assert.Equal(t, "ledger is empty\n", buf.String())
}

type renderStub struct{ line string }

func (r renderStub) RenderText(w io.Writer) { fmt.Fprintf(w, "rendered: %s\n", r.line) }

func TestOutputFormatter_TextUsesRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(renderStub{line: "hello"}))
	assert.Equal(t, "rendered: hello\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	t.Run("falls back to writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}

		require.NoError(t, formatter.Error("INVALID_INPUT", "resource id is empty", nil))
		assert.Contains(t, buf.String(), "Error [INVALID_INPUT]")
		assert.Contains(t, buf.String(), "resource id is empty")
	})

	t.Run("prefers err writer", func(t *testing.T) {
		out := &bytes.Buffer{}
		errOut := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

		require.NoError(t, formatter.Error("INVALID_INPUT", "bad", map[string]string{"path": "a.eml"}))
		assert.Empty(t, out.String())
		assert.Contains(t, errOut.String(), "Error [INVALID_INPUT]: bad")
		assert.Contains(t, errOut.String(), "Details:")
	})
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

			formatter.VerboseLog("Processing %s", "demo.eml")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Processing demo.eml")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"command error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "config", errors.New("x"))), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitCommandError, "invalid configuration", errors.New("retry.max_attempts must be at least 1, got 0"))
	assert.Equal(t, "invalid configuration: retry.max_attempts must be at least 1, got 0", err.Error())
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
}
