// Package pull integrates commits from the remote into the local repository,
// deploys them and activates the services they touch.
package pull

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/lock"
	"github.com/sidkik/dotsync/pkg/metrics"
	"github.com/sidkik/dotsync/pkg/service"
	"github.com/sidkik/dotsync/pkg/vcs"
)

// Locker is the subset of lock.Manager used by the Watcher.
type Locker interface {
	WithLock(name string, fn func(*lock.Handle) error) error
}

// Reconciler activates services affected by a change.
type Reconciler interface {
	Reconcile(ctx context.Context, root string, changed map[string]bool) (map[string]service.Action, error)
}

// Config configures a Watcher.
type Config struct {
	StateDir    string
	Interval    time.Duration
	ReadTimeout time.Duration

	// Exclude lists glob patterns of repository paths that don't need a
	// deploy when they change.
	Exclude []string
}

// Watcher periodically integrates remote commits.
type Watcher struct {
	client     vcs.Client
	locks      Locker
	deployer   Deployer
	reconciler Reconciler
	metrics    *metrics.Metrics
	config     Config
	integrated integratedStore

	// wake triggers an immediate tick.
	wake <-chan struct{}

	clock clockwork.Clock
	log   logrus.FieldLogger
}

// NewWatcher creates a Watcher.
func NewWatcher(log logrus.FieldLogger, client vcs.Client, locks Locker, deployer Deployer,
	reconciler Reconciler, m *metrics.Metrics, wake <-chan struct{}, config Config) *Watcher {
	return &Watcher{
		client:     client,
		locks:      locks,
		deployer:   deployer,
		reconciler: reconciler,
		metrics:    m,
		config:     config,
		integrated: newIntegratedStore(afero.NewOsFs(), config.StateDir),
		wake:       wake,
		clock:      clockwork.NewRealClock(),
		log:        log,
	}
}

// Tick integrates and deploys new remote commits. If another process is
// already pulling, it returns immediately.
func (w *Watcher) Tick(ctx context.Context) error {
	err := w.locks.WithLock(lock.Pull, func(*lock.Handle) error {
		return w.integrate(ctx)
	})

	switch err.(type) {
	case nil:
		w.metrics.PullTicks.WithLabelValues("ok").Inc()
	case errors.DeployError:
		w.metrics.PullTicks.WithLabelValues("deploy_failed").Inc()
	default:
		if err == lock.ErrLockBusy {
			w.log.WithField("lock", lock.Pull).Debug("Lock busy, skipping pull")
			w.metrics.PullTicks.WithLabelValues("busy").Inc()
			err = nil
		} else {
			w.metrics.PullTicks.WithLabelValues("failed").Inc()
		}
	}
	w.metrics.Flush()
	return err
}

func (w *Watcher) integrate(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, w.config.ReadTimeout)
	err := w.client.Fetch(fetchCtx)
	cancel()
	if err != nil {
		return err
	}

	div, err := w.client.Divergence()
	if err != nil {
		return errors.WithContext(err, "compare with remote")
	}

	var update func(context.Context) error
	switch div {
	case vcs.Behind:
		update = w.client.FastForward
	case vcs.Diverged:
		update = w.client.Merge
	}

	if update != nil {
		updateCtx, cancel := context.WithTimeout(ctx, w.config.ReadTimeout)
		err := update(updateCtx)
		cancel()
		if err == vcs.ErrDirtyWorktree {
			// The push watcher commits the local changes first.
			w.log.WithField("divergence", div).Info(
				"Local changes haven't been committed yet, deferring pull")
			return nil
		} else if err != nil {
			return err
		}
	}

	head, err := w.client.Head()
	if err != nil {
		return errors.WithContext(err, "get HEAD")
	}

	prev, err := w.integrated.Load()
	if err != nil {
		return errors.WithContext(err, "load pull state")
	}

	if head == "" || head == prev {
		return nil
	}

	log := w.log.WithField("commit", head)
	changed, err := w.client.ChangedFiles(prev, head)
	if err != nil && prev != "" {
		// The previous commit may be gone after a force push.
		log.WithError(err).Warn("Failed to diff against the last integrated commit, deploying everything")
		changed, err = w.client.ChangedFiles("", head)
	}
	if err != nil {
		return errors.WithContext(err, "list changed files")
	}

	changedSet := map[string]bool{}
	var deployable []string
	for _, p := range changed {
		if p == ".git" || strings.HasPrefix(p, ".git/") {
			continue
		}
		changedSet[p] = true
		if !w.excluded(p) {
			deployable = append(deployable, p)
		}
	}

	if len(deployable) != 0 {
		log.WithField("files", len(deployable)).Info("Deploying changes")
		if err := w.deployer.Deploy(ctx, w.client.Path()); err != nil {
			return err
		}
	}

	actions, serviceErr := w.reconciler.Reconcile(ctx, w.client.Path(), changedSet)
	for name, action := range actions {
		log.WithFields(logrus.Fields{
			"service": name,
			"action":  action,
		}).Info("Updated service")
	}

	// Service failures are per service and logged by the reconciler, so the
	// commit still counts as integrated.
	if err := w.integrated.Save(head); err != nil {
		return errors.WithContext(err, "save pull state")
	}
	return serviceErr
}

func (w *Watcher) excluded(p string) bool {
	for _, pattern := range w.config.Exclude {
		pattern = strings.TrimSuffix(pattern, "/")
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(p)); ok {
			return true
		}
		if strings.HasPrefix(p, pattern+"/") {
			return true
		}
	}
	return false
}

// Run ticks on the configured interval and whenever the watcher is woken,
// until `ctx` is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logTickError(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-w.wake:
			w.log.Debug("Woken up")
		}
	}
}

func (w *Watcher) logTickError(err error) {
	if deployErr, ok := err.(errors.DeployError); ok {
		w.log.WithError(deployErr.Err).WithFields(logrus.Fields{
			"command": deployErr.Command,
			"output":  deployErr.Output,
		}).Error("Deploy failed")
		return
	}

	if syncErr, ok := errors.AsSyncError(err); ok {
		w.log.WithError(err).WithFields(logrus.Fields{
			"op":     syncErr.Op,
			"kind":   syncErr.Kind,
			"reason": syncErr.Reason,
		}).Error("Pull failed")
		return
	}
	w.log.WithError(err).Error("Pull failed")
}
