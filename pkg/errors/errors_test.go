package errors

import (
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	assert.Nil(t, WithContext(nil, "ignored"))

	err := WithContext(WithContext(FileNotFound{Path: "/a"}, "read"), "parse")
	assert.Equal(t, `parse: read: "/a" does not exist`, err.Error())
	assert.Equal(t, FileNotFound{Path: "/a"}, RootCause(err))

	var notFound FileNotFound
	assert.True(t, goerrors.As(err, &notFound))
}

func TestSyncErrorUnwrap(t *testing.T) {
	inner := New("connection reset")
	err := WithContext(SyncError{
		Op:     "push",
		Kind:   RetryableNetworkError,
		Reason: "connection reset",
		Err:    inner,
	}, "attempt 2")

	syncErr, ok := AsSyncError(err)
	assert.True(t, ok)
	assert.Equal(t, RetryableNetworkError, syncErr.Kind)
	assert.True(t, goerrors.Is(err, inner))
	assert.Equal(t, "attempt 2: push: connection reset (RetryableNetworkError): connection reset", err.Error())

	_, ok = AsSyncError(New("plain"))
	assert.False(t, ok)
}

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		exp  bool
	}{
		{RetryableNetworkError, true},
		{RetryableTimeout, true},
		{FatalAuthError, false},
		{FatalConflictError, false},
		{KindUnknown, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, test.kind.Retryable(), test.kind.String())
		assert.NotEmpty(t, test.kind.RemediationHint())
		assert.Equal(t, test.kind, ParseKind(test.kind.String()))
	}
}
