package push

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/dotsync/cmd/util"
	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/fswatch"
	"github.com/sidkik/dotsync/pkg/push"
)

// New creates a new `push` command.
func New() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Commit and push local configuration changes",
		Long: "Watch the configuration repository and push every change to the " +
			"remote, retrying when the remote is unreachable.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(once); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false,
		"Run a single push cycle and exit, rather than watching for changes")
	return cmd
}

func run(once bool) error {
	engine, err := util.NewEngine()
	if err != nil {
		return err
	}

	repo, err := engine.OpenRepo()
	if err != nil {
		return err
	}

	ctx, cancel := util.SignalContext()
	defer cancel()

	cfg := engine.Config
	controller := engine.PushController(repo)

	if once {
		w := push.NewWatcher(log.StandardLogger(), controller, repo, engine.Locks,
			nil, cfg.PollInterval.Duration, cfg.Debounce.Duration)
		return w.Cycle(ctx)
	}

	watcher, err := fswatch.Watch(cfg.Repo)
	if err != nil {
		return errors.WithContext(err, "watch repository")
	}
	defer watcher.Close()

	w := push.NewWatcher(log.StandardLogger(), controller, repo, engine.Locks,
		watcher.Changes(), cfg.PollInterval.Duration, cfg.Debounce.Duration)

	log.WithField("repo", cfg.Repo).Info("Watching for changes")
	w.Run(ctx)
	return nil
}
