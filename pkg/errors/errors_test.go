package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMissingInputErrorMessage(t *testing.T) {
	err := NewMissingInputError("kraken2-db", "hash.k2d", "required companion file is absent")
	require.EqualError(t, err, "missing input in kraken2-db: hash.k2d: required companion file is absent")

	err = NewMissingInputError("reads", "", "manifest is empty")
	require.EqualError(t, err, "missing input in reads: manifest is empty")
}

func TestToolExecutionErrorCarriesDiagnostics(t *testing.T) {
	root := fmt.Errorf("exit status 2")
	err := NewToolExecutionError("kraken2", 2, "  database not found\n", root)

	require.EqualError(t, err, "kraken2 failed (exit code 2): database not found")
	require.ErrorIs(t, err, root)

	var execErr *ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, 2, execErr.ExitCode)
	require.Equal(t, "database not found", execErr.Output)
}

func TestToolNotFoundErrorUnwrap(t *testing.T) {
	root := errors.New("executable file not found in $PATH")
	err := NewToolNotFoundError("metabat2", root)

	require.ErrorIs(t, err, root)
	require.Contains(t, err.Error(), "metabat2")
}

func TestMalformedOutputErrorMessage(t *testing.T) {
	err := NewMalformedOutputError("/tmp/out/sample1.report.txt", "expected 6 columns, got 4", nil)
	require.EqualError(t, err, "malformed output: /tmp/out/sample1.report.txt: expected 6 columns, got 4")
}

func TestParseErrorIncludesLine(t *testing.T) {
	err := NewParseError("pipeline.yaml", 12, fmt.Errorf("mapping values are not allowed"))
	require.EqualError(t, err, "parse error: pipeline.yaml:12: mapping values are not allowed")
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("threads", "must be at least 1", nil)
	require.EqualError(t, err, "validation error: threads: must be at least 1")
}

func TestActionErrorMessage(t *testing.T) {
	err := NewActionError("classify-kraken2", fmt.Errorf("already registered"))
	require.EqualError(t, err, "action error [classify-kraken2]: already registered")
}
