package notify

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/state"
)

type recordingAlerter struct {
	alerts []string
	err    error
}

func (a *recordingAlerter) Alert(title, message string) error {
	a.alerts = append(a.alerts, message)
	return a.err
}

func newTestNotifier() (*Notifier, *recordingAlerter, *test.Hook) {
	logger, hook := test.NewNullLogger()
	alerter := &recordingAlerter{}
	n := New(logger, "/state", 3, alerter)
	n.fs = afero.NewMemMapFs()
	n.clock = clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	return n, alerter, hook
}

func failing(n int) state.FailureCounter {
	return state.FailureCounter{
		ConsecutiveFailures: n,
		LastFailureKind:     errors.RetryableNetworkError.String(),
		LastFailureReason:   "dns lookup failed",
		LastFailureAt:       time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC),
	}
}

func TestOnFailureCounterChanged(t *testing.T) {
	n, alerter, hook := newTestNotifier()

	exists := func(path string) bool {
		ok, err := afero.Exists(n.fs, path)
		assert.NoError(t, err)
		return ok
	}

	for i := 1; i <= 2; i++ {
		assert.NoError(t, n.OnFailureCounterChanged(failing(i)))
		assert.False(t, exists(n.ReportPath()))
		assert.False(t, exists(n.AlertPath()))
	}
	assert.Empty(t, alerter.alerts)

	assert.NoError(t, n.OnFailureCounterChanged(failing(3)))
	assert.True(t, exists(n.AlertPath()))
	assert.Len(t, alerter.alerts, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	report, err := afero.ReadFile(n.fs, n.ReportPath())
	assert.NoError(t, err)
	assert.Contains(t, string(report), "Consecutive failures: 3")
	assert.Contains(t, string(report), "Reason:               dns lookup failed")
	assert.Contains(t, string(report), "Time:                 2026-10-15T08:00:00Z")
	assert.Contains(t, string(report), errors.RetryableNetworkError.RemediationHint())

	// Later failures overwrite the report without notifying again.
	assert.NoError(t, n.OnFailureCounterChanged(failing(4)))
	report, err = afero.ReadFile(n.fs, n.ReportPath())
	assert.NoError(t, err)
	assert.Contains(t, string(report), "Consecutive failures: 4")
	assert.Len(t, alerter.alerts, 1)

	assert.NoError(t, n.OnFailureCounterChanged(state.FailureCounter{}))
	assert.False(t, exists(n.ReportPath()))
	assert.False(t, exists(n.AlertPath()))
	assert.Len(t, alerter.alerts, 1)
}

func TestAlertFailureIsNotFatal(t *testing.T) {
	n, alerter, hook := newTestNotifier()
	alerter.err = errors.New("notify-send: not found")

	assert.NoError(t, n.OnFailureCounterChanged(failing(3)))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestClearWithoutIncident(t *testing.T) {
	n, _, _ := newTestNotifier()
	assert.NoError(t, n.OnFailureCounterChanged(state.FailureCounter{}))
}
