package push

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/lock"
	"github.com/sidkik/dotsync/pkg/vcs"
)

// Locker is the subset of lock.Manager used by the Watcher.
type Locker interface {
	Acquire(name string) (*lock.Handle, error)
	Release(h *lock.Handle) error
	Refresh(h *lock.Handle) error
}

// Watcher commits local changes and delivers them whenever the working tree
// changes.
type Watcher struct {
	controller *Controller
	client     vcs.Client
	locks      Locker

	// changes receives a value whenever a file in the working tree changes.
	changes      <-chan struct{}
	pollInterval time.Duration
	debounce     time.Duration
	hostname     string

	clock clockwork.Clock
	log   logrus.FieldLogger
}

// NewWatcher creates a Watcher.
func NewWatcher(log logrus.FieldLogger, controller *Controller, client vcs.Client,
	locks Locker, changes <-chan struct{}, pollInterval, debounce time.Duration) *Watcher {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Debug("Failed to get hostname")
		hostname = "unknown host"
	}

	return &Watcher{
		controller:   controller,
		client:       client,
		locks:        locks,
		changes:      changes,
		pollInterval: pollInterval,
		debounce:     debounce,
		hostname:     hostname,
		clock:        clockwork.NewRealClock(),
		log:          log,
	}
}

// Cycle commits any local changes and delivers them. If another process is
// already pushing, the cycle is skipped.
func (w *Watcher) Cycle(ctx context.Context) error {
	h, err := w.locks.Acquire(lock.Push)
	if err == lock.ErrLockBusy {
		w.log.WithField("lock", lock.Push).Debug("Lock busy, skipping push cycle")
		w.controller.metrics.PushCycles.WithLabelValues("busy").Inc()
		return nil
	} else if err != nil {
		return errors.WithContext(err, "acquire lock")
	}

	defer func() {
		if err := w.locks.Release(h); err != nil {
			w.log.WithError(err).WithField("lock", lock.Push).Warn("Failed to release lock")
		}
	}()

	hash, committed, err := w.client.Commit(fmt.Sprintf("dotsync: sync from %s", w.hostname))
	if err != nil {
		return errors.WithContext(err, "commit")
	}

	if committed {
		w.log.WithField("commit", hash).Info("Committed local changes")
	} else {
		// Nothing new, but commits from an earlier failed cycle may still be
		// waiting. This compares against the last fetch, so it doesn't touch
		// the network. Diverged history is merged by the pull watcher, which
		// leaves the branch ahead.
		div, err := w.client.Divergence()
		if err != nil {
			return errors.WithContext(err, "compare with remote")
		}
		if div != vcs.Ahead {
			return nil
		}
	}

	result, err := w.controller.deliver(ctx, func() error {
		return w.locks.Refresh(h)
	})
	if err != nil {
		return err
	}

	if result.Outcome == Failed {
		return result.Err
	}
	return nil
}

// Run runs cycles until `ctx` is cancelled. A cycle runs at startup, after
// the working tree has been quiet for the debounce period, and on every poll
// interval as a fallback for missed events.
func (w *Watcher) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.runCycle(ctx)

	var debounced <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.changes:
			if debounced == nil {
				debounced = w.clock.After(w.debounce)
			}
		case <-debounced:
			debounced = nil
			w.runCycle(ctx)
		case <-ticker.Chan():
			w.runCycle(ctx)
		}
	}
}

func (w *Watcher) runCycle(ctx context.Context) {
	if err := w.Cycle(ctx); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Error("Push cycle failed")
	}
}
