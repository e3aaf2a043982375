package util

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/config"
	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/lock"
	"github.com/sidkik/dotsync/pkg/metrics"
	"github.com/sidkik/dotsync/pkg/notify"
	"github.com/sidkik/dotsync/pkg/push"
	"github.com/sidkik/dotsync/pkg/state"
	"github.com/sidkik/dotsync/pkg/vcs"
)

// Engine holds the components shared by the commands, built from the
// machine config.
type Engine struct {
	Config   config.Config
	Locks    *lock.Manager
	Counter  state.CounterStore
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// NewEngine parses the machine config and creates the components that don't
// need the repository.
func NewEngine() (Engine, error) {
	cfg, err := config.Parse(ConfigPath)
	if err != nil {
		return Engine{}, err
	}

	logger := log.StandardLogger()

	var alerter notify.Alerter
	if cfg.DesktopNotifications() {
		alerter = notify.Desktop{}
	}

	return Engine{
		Config:   cfg,
		Locks:    lock.NewManager(logger, cfg.StateDir, cfg.Lock.StaleAfter.Duration),
		Counter:  state.NewCounterStore(afero.NewOsFs(), cfg.StateDir),
		Notifier: notify.New(logger, cfg.StateDir, cfg.Notify.Threshold, alerter),
		Metrics:  metrics.New(logger, cfg.MetricsTextfile),
	}, nil
}

// OpenRepo opens the configuration repository.
func (e Engine) OpenRepo() (*vcs.Git, error) {
	repo, err := vcs.Open(e.Config)
	if err != nil {
		return nil, errors.WithContext(err, "open repository")
	}
	return repo, nil
}

// PushController creates the push controller for `client`.
func (e Engine) PushController(client vcs.Client) *push.Controller {
	return push.NewController(log.StandardLogger(), client, e.Counter, e.Notifier, e.Metrics, push.Options{
		MaxAttempts: e.Config.Retry.MaxAttempts,
		BaseDelay:   e.Config.Retry.BaseDelay.Duration,
		ReadTimeout: e.Config.Timeouts.Read.Duration,
		PushTimeout: e.Config.Timeouts.Push.Duration,
	})
}
