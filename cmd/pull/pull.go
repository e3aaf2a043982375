package pull

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/dotsync/cmd/util"
	"github.com/sidkik/dotsync/pkg/pull"
	"github.com/sidkik/dotsync/pkg/service"
)

// New creates a new `pull` command.
func New() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Integrate and deploy configuration changes from the remote",
		Long: "Periodically fetch the remote, fast-forward the configuration " +
			"repository, run the deployment tool and activate changed services.\n\n" +
			"Send SIGUSR1 to check the remote immediately.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(once); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false,
		"Run a single pull and exit")
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
	logger := log.StandardLogger()
	activator := service.NewActivator(logger, service.ForCurrentPlatform(), engine.Metrics)
	deployer := pull.CommandDeployer{Command: cfg.Deploy.Command}

	var wake <-chan struct{}
	if !once {
		wake = notifyWake(ctx)
	}

	w := pull.NewWatcher(logger, repo, engine.Locks, deployer, activator, engine.Metrics, wake,
		pull.Config{
			StateDir:    cfg.StateDir,
			Interval:    cfg.PullInterval.Duration,
			ReadTimeout: cfg.Timeouts.Read.Duration,
			Exclude:     cfg.Deploy.Exclude,
		})

	if once {
		return w.Tick(ctx)
	}

	logger.WithField("interval", cfg.PullInterval.Duration).Info("Polling the remote")
	w.Run(ctx)
	return nil
}
