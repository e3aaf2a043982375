package service

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/metrics"
)

// Action is what Reconcile did to a service.
type Action string

const (
	NoAction Action = ""
	Activate Action = "activate"
	Restart  Action = "restart"
)

// Activator brings services whose descriptors or definitions changed in line
// with their descriptors.
type Activator struct {
	supervisor Supervisor
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
}

// NewActivator creates an Activator. If `supervisor` is nil, services are
// never touched.
func NewActivator(log logrus.FieldLogger, supervisor Supervisor, m *metrics.Metrics) *Activator {
	return &Activator{supervisor: supervisor, metrics: m, log: log}
}

// Reconcile acts on the descriptors in the repository at `root` that are
// affected by `changed`, a set of repository paths. It returns what it did
// to each affected service, keyed by name.
func (a *Activator) Reconcile(ctx context.Context, root string, changed map[string]bool) (map[string]Action, error) {
	actions := map[string]Action{}
	if a.supervisor == nil {
		a.log.Debug("Service activation isn't supported on this platform")
		return actions, nil
	}

	descriptors, invalid, err := Discover(root)
	if err != nil {
		return nil, errors.WithContext(err, "discover services")
	}

	for path, err := range invalid {
		if changed[path] {
			a.log.WithError(err).WithField("descriptor", path).Warn("Ignoring invalid service descriptor")
		}
	}

	var failed []string
	for _, d := range descriptors {
		action, err := a.reconcile(ctx, root, d, changed)
		if err != nil {
			a.log.WithError(err).WithField("service", d.Name).Error("Failed to activate service")
			failed = append(failed, d.Name)
			continue
		}
		if action != NoAction {
			actions[d.Name] = action
			a.metrics.ServiceActions.WithLabelValues(string(action)).Inc()
		}
	}

	if len(failed) != 0 {
		return actions, errors.New("failed to activate services: %v", failed)
	}
	return actions, nil
}

func (a *Activator) reconcile(ctx context.Context, root string, d Descriptor, changed map[string]bool) (Action, error) {
	log := a.log.WithField("service", d.Name)

	definitionChanged := changed[d.DefinitionPath()]
	if !changed[d.Path] && !definitionChanged {
		return NoAction, nil
	}

	if d.Platform != a.supervisor.Platform() {
		log.WithField("platform", d.Platform).Debug("Skipping service for another platform")
		return NoAction, nil
	}

	if !d.Enabled {
		log.Debug("Service isn't enabled on this machine, leaving it alone")
		return NoAction, nil
	}

	definition := filepath.Join(root, filepath.FromSlash(d.DefinitionPath()))
	if _, err := fs.Stat(definition); err != nil {
		return NoAction, errors.WithContext(err, "stat definition")
	}

	active, err := a.supervisor.IsActive(ctx, d)
	if err != nil {
		return NoAction, errors.WithContext(err, "get status")
	}

	switch {
	case !active:
		log.Info("Activating service")
		return Activate, a.supervisor.Activate(ctx, d, definition)
	case definitionChanged:
		log.Info("Restarting service for new definition")
		return Restart, a.supervisor.Restart(ctx, d, definition)
	default:
		return NoAction, nil
	}
}
