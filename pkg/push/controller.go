// Package push delivers local commits to the remote. The Controller retries
// transient failures with a quadratic backoff and keeps the persisted failure
// counter up to date, and the Watcher decides when a cycle runs.
package push

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/metrics"
	"github.com/sidkik/dotsync/pkg/state"
	"github.com/sidkik/dotsync/pkg/vcs"
)

// Outcome is the final state of a delivery.
type Outcome int

const (
	Delivered Outcome = iota
	Failed
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "failed"
}

// Result describes a finished delivery.
type Result struct {
	Outcome  Outcome
	Kind     errors.Kind
	Reason   string
	Attempts int

	// Err is the error of the last attempt, if the delivery failed.
	Err error
}

// CounterStore persists the failure counter.
type CounterStore interface {
	RecordFailure(kind errors.Kind, reason string, at time.Time) (state.FailureCounter, error)
	RecordSuccess(at time.Time) (state.FailureCounter, error)
}

// FailureObserver is told about every change of the failure counter.
type FailureObserver interface {
	OnFailureCounterChanged(state.FailureCounter) error
}

// Options tune the retry behaviour.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	ReadTimeout time.Duration
	PushTimeout time.Duration
}

// Controller runs the retry state machine around a push.
type Controller struct {
	client   vcs.Client
	counter  CounterStore
	observer FailureObserver
	metrics  *metrics.Metrics
	opts     Options

	clock clockwork.Clock
	log   logrus.FieldLogger
}

// NewController creates a Controller.
func NewController(log logrus.FieldLogger, client vcs.Client, counter CounterStore,
	observer FailureObserver, m *metrics.Metrics, opts Options) *Controller {
	return &Controller{
		client:   client,
		counter:  counter,
		observer: observer,
		metrics:  m,
		opts:     opts,
		clock:    clockwork.NewRealClock(),
		log:      log,
	}
}

// Delay returns how long to wait after the failed attempt `n`, counting from 1.
func (c *Controller) Delay(n int) time.Duration {
	return c.opts.BaseDelay * time.Duration(n*n)
}

// Deliver pushes local commits to the remote, retrying transient failures.
// The returned error is only set if the delivery was cancelled through `ctx`
// or the failure counter couldn't be persisted; sync failures are reported
// through the Result.
func (c *Controller) Deliver(ctx context.Context) (Result, error) {
	return c.deliver(ctx, nil)
}

// deliver is Deliver with a heartbeat that's called before every retry, so
// that the push lock isn't mistaken for abandoned during long backoffs.
func (c *Controller) deliver(ctx context.Context, heartbeat func() error) (Result, error) {
	var result Result
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		attemptLog := c.log.WithFields(logrus.Fields{
			"op":      "push",
			"attempt": attempt,
		})

		err := c.attempt(ctx)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if err == nil {
			attemptLog.Info("Push attempt succeeded")
			c.observeAttempt("ok")
			return c.succeed(result)
		}

		syncErr, ok := errors.AsSyncError(err)
		if !ok {
			syncErr = vcs.Classify("push", err).(errors.SyncError)
		}
		result.Kind = syncErr.Kind
		result.Reason = syncErr.Reason
		result.Err = err
		c.observeAttempt(syncErr.Kind.String())

		fields := logrus.Fields{
			"kind":   syncErr.Kind,
			"reason": syncErr.Reason,
		}
		if !syncErr.Kind.Retryable() {
			attemptLog.WithFields(fields).WithError(err).Error("Push attempt failed with a fatal error")
			return c.fail(result)
		}

		if attempt >= c.opts.MaxAttempts {
			attemptLog.WithFields(fields).WithError(err).Error("Push attempt failed, giving up")
			return c.fail(result)
		}

		delay := c.Delay(attempt)
		fields["retryIn"] = delay
		attemptLog.WithFields(fields).WithError(err).Warn("Push attempt failed, will retry")

		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return result, ctx.Err()
		}

		if heartbeat != nil {
			if err := heartbeat(); err != nil {
				// Another process reclaimed the lock. It will deliver the
				// commits itself.
				return result, errors.WithContext(err, "refresh lock")
			}
		}
	}
}

func (c *Controller) attempt(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	err := c.client.Fetch(fetchCtx)
	cancel()
	if err != nil {
		return err
	}

	div, err := c.client.Divergence()
	if err != nil {
		return vcs.Classify("divergence", err)
	}

	c.log.WithField("divergence", div).Debug("Compared with remote")
	switch div {
	case vcs.UpToDate, vcs.Behind:
		// Remote commits are integrated by the pull watcher.
		return nil
	case vcs.Diverged:
		mergeCtx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
		err := c.client.Merge(mergeCtx)
		cancel()
		if err == vcs.ErrDirtyWorktree {
			// Files were edited after the commit. The next cycle commits them.
			return vcs.Classify("merge", err)
		} else if err != nil {
			return err
		}
		c.log.Info("Merged remote commits")
	}

	pushCtx, cancel := context.WithTimeout(ctx, c.opts.PushTimeout)
	defer cancel()
	return c.client.Push(pushCtx)
}

func (c *Controller) succeed(result Result) (Result, error) {
	result.Outcome = Delivered
	result.Kind = errors.KindUnknown
	result.Reason = ""
	result.Err = nil

	counter, err := c.counter.RecordSuccess(c.clock.Now())
	if err != nil {
		return result, errors.WithContext(err, "reset failure counter")
	}
	c.metrics.PushCycles.WithLabelValues("delivered").Inc()
	return result, c.counterChanged(counter)
}

func (c *Controller) fail(result Result) (Result, error) {
	result.Outcome = Failed

	counter, err := c.counter.RecordFailure(result.Kind, result.Reason, c.clock.Now())
	if err != nil {
		return result, errors.WithContext(err, "increment failure counter")
	}
	c.metrics.PushCycles.WithLabelValues("failed").Inc()
	return result, c.counterChanged(counter)
}

func (c *Controller) counterChanged(counter state.FailureCounter) error {
	c.metrics.ObserveCounter(counter.ConsecutiveFailures, counter.LastSuccessAt)
	c.metrics.Flush()

	if err := c.observer.OnFailureCounterChanged(counter); err != nil {
		return errors.WithContext(err, "notify")
	}
	return nil
}

func (c *Controller) observeAttempt(kind string) {
	c.metrics.PushAttempts.WithLabelValues(kind).Inc()
}
