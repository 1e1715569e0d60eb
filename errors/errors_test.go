package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesLocation(t *testing.T) {
	err := New("something broke: %d", 42)
	assert.Contains(t, err.Error(), "errors_test.go")
	assert.Contains(t, err.Error(), "something broke: 42")
}

func TestWrapf(t *testing.T) {
	assert.Nil(t, Wrapf(nil, "ignored"))

	cause := fmt.Errorf("root cause")
	err := Wrapf(cause, "while doing %s", "work")
	assert.Contains(t, err.Error(), "while doing work")
	assert.ErrorIs(t, err, cause)
}

func TestRecoverablePredicates(t *testing.T) {
	err := Recoverable(KindToolNotFound, "tool '%s' not found", "fs_read")
	assert.True(t, IsRecoverable(err))
	assert.False(t, IsCancelled(err))
	assert.Equal(t, KindToolNotFound, KindOf(err))
	assert.Equal(t, "tool 'fs_read' not found", err.Error())
}

func TestFatalPredicates(t *testing.T) {
	err := Fatal(KindProvider, "unknown LLM provider '%s'", "acme")
	assert.False(t, IsRecoverable(err))
	assert.Equal(t, KindProvider, KindOf(err))
}

func TestCancelled(t *testing.T) {
	err := Fatal(KindCancelled, "Operation cancelled by user")
	assert.True(t, IsCancelled(err))
	assert.False(t, IsRecoverable(err))
}

func TestFatalWrapPreservesCause(t *testing.T) {
	assert.Nil(t, FatalWrap(KindConnectivity, nil, "ignored"))

	cause := fmt.Errorf("dial tcp: refused")
	err := FatalWrap(KindConnectivity, cause, "provider call failed")
	require.Error(t, err)
	assert.Equal(t, KindConnectivity, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "provider call failed: dial tcp: refused", err.Error())
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("plain")))
	assert.False(t, IsRecoverable(fmt.Errorf("plain")))
	assert.False(t, IsCancelled(nil))
}

func TestWrappedClassificationSurvives(t *testing.T) {
	inner := Recoverable(KindInvalidToolArgs, "bad args")
	outer := fmt.Errorf("step 3: %w", inner)
	assert.True(t, IsRecoverable(outer))
	assert.Equal(t, KindInvalidToolArgs, KindOf(outer))
}
