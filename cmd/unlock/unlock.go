package unlock

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/dotsync/cmd/util"
	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/lock"
)

// New creates a new `unlock` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:       "unlock <push|pull>",
		Short:     "Forcibly remove a sync lock",
		Long:      "Remove a lock left behind by a wedged process. Locks abandoned by crashed processes are reclaimed automatically after ten minutes.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{lock.Push, lock.Pull},
		Run: func(_ *cobra.Command, args []string) {
			if err := run(args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(name string) error {
	engine, err := util.NewEngine()
	if err != nil {
		return err
	}

	status, err := engine.Locks.Inspect(name)
	if err != nil {
		return errors.WithContext(err, "inspect lock")
	}

	if !status.Held {
		fmt.Printf("The %s lock isn't held.\n", name)
		return nil
	}

	if status.HolderAlive && !status.Stale {
		log.WithField("pid", status.Record.PID).Warn("Removing a lock held by a running process")
	}

	if err := engine.Locks.ForceRelease(name); err != nil {
		return errors.WithContext(err, "remove lock")
	}
	fmt.Printf("Removed %s\n", status)
	return nil
}
