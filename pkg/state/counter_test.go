package state

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/dotsync/pkg/errors"
)

func TestCounterStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewCounterStore(fs, "/state")
	assert.Equal(t, "/state/failures.yaml", store.Path())

	counter, err := store.Load()
	assert.NoError(t, err)
	assert.Equal(t, FailureCounter{}, counter)

	t0 := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		counter, err = store.RecordFailure(errors.RetryableNetworkError, "dns lookup failed", t0)
		require.NoError(t, err)
		assert.Equal(t, i, counter.ConsecutiveFailures)
	}

	// Another process reading the file sees the same state.
	loaded, err := NewCounterStore(fs, "/state").Load()
	assert.NoError(t, err)
	assert.Equal(t, FailureCounter{
		ConsecutiveFailures: 3,
		LastFailureKind:     "RetryableNetworkError",
		LastFailureReason:   "dns lookup failed",
		LastFailureAt:       t0,
	}, loaded)

	t1 := t0.Add(time.Hour)
	counter, err = store.RecordSuccess(t1)
	assert.NoError(t, err)
	assert.Equal(t, FailureCounter{LastFailureAt: t0, LastSuccessAt: t1}, counter)

	exists, err := afero.Exists(fs, "/state/failures.yaml.tmp")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestCounterStoreCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/state/failures.yaml", []byte("consecutiveFailures: [oops"), 0644))

	_, err := NewCounterStore(fs, "/state").RecordFailure(errors.FatalAuthError, "bad", time.Now())
	assert.Error(t, err)
}
