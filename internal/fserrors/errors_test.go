package fserrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWrapsAndCounts(t *testing.T) {
	before := Total()
	err := New(KindPath, errors.New("boom"))
	assert.Contains(t, err.Error(), "path error")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, before+1, Total())
}

func TestNewNilPassesThrough(t *testing.T) {
	assert.Nil(t, New(KindPath, nil))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(KindResource, cause)
	assert.ErrorIs(t, err, cause)
}

func TestNoRetryMarker(t *testing.T) {
	cause := errors.New("bad format string")
	marked := NoRetryError(cause)
	assert.True(t, IsNoRetry(marked))
	assert.False(t, IsNoRetry(cause))
}

func TestExitCodeReflectsErrorCount(t *testing.T) {
	// ExitCode is driven by the package-level counter, which other tests
	// in this package may have already incremented; we only assert the
	// monotonic relationship rather than an absolute value.
	before := Total()
	_ = New(KindEvaluation, errors.New("x"))
	assert.Greater(t, Total(), before)
	assert.Equal(t, 1, ExitCode())
}
