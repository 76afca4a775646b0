package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMatchesByCode(t *testing.T) {
	sentinel := New(CodeNotFound, "missing")
	err := Wrap(CodeNotFound, stdErrors.New("disk"), "agent demo not found", WithMetadata("name", "demo"))

	require.True(t, stdErrors.Is(err, sentinel))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, "demo", err.Meta("name"))
	assert.Contains(t, err.Error(), "disk")
}

func TestCodeSurvivesFmtWrapping(t *testing.T) {
	inner := New(CodeStorageFailure, "")
	outer := fmt.Errorf("save: %w", inner)

	assert.Equal(t, CodeStorageFailure, CodeOf(outer))
	assert.True(t, RetryableError(outer))
	assert.Equal(t, SeverityCritical, SeverityOf(outer))
	assert.Equal(t, "storage failure", inner.Message())
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true})

	err := New(code, "", WithRetryable(false))
	assert.Equal(t, "custom", err.Message())
	assert.False(t, err.Retryable())
	assert.Equal(t, SeverityWarning, err.Severity())
}

func TestUnknownErrors(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
	assert.False(t, RetryableError(nil))
	assert.Equal(t, AttributesOf(CodeUnknown), AttributesOf("NEVER_REGISTERED"))
}

func TestLogValueOrdersMetadata(t *testing.T) {
	err := New(CodeInvalidArgument, "bad", WithMetadata("path", "/a"), WithMetadata("field", "version"))
	assert.Equal(t, "[INVALID_ARGUMENT] bad (field=version, path=/a)", err.LogValue())
}
