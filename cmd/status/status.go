package status

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buger/goterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/sidkik/dotsync/cmd/util"
	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/lock"
	"github.com/sidkik/dotsync/pkg/notify"
	"github.com/sidkik/dotsync/pkg/state"
)

// Mocked for unit testing.
var (
	stdout   io.Writer = os.Stdout
	useColor           = func() bool { return terminal.IsTerminal(int(os.Stdout.Fd())) }
)

// New creates a new `status` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the state of the sync locks and recent failures",
		Run: func(_ *cobra.Command, _ []string) {
			engine, err := util.NewEngine()
			if err != nil {
				util.HandleFatalError(err)
			}

			if err := printStatus(engine.Locks, engine.Counter, engine.Notifier); err != nil {
				util.HandleFatalError(errors.WithContext(err, "get status"))
			}
		},
	}
}

type lockInspector interface {
	Inspect(name string) (lock.Status, error)
}

type counterLoader interface {
	Load() (state.FailureCounter, error)
}

func printStatus(locks lockInspector, counter counterLoader, notifier *notify.Notifier) error {
	color := useColor()
	paint := func(s string, c int) string {
		if !color {
			return s
		}
		return goterm.Color(s, c)
	}

	for _, name := range []string{lock.Push, lock.Pull} {
		status, err := locks.Inspect(name)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("inspect %s lock", name))
		}

		c := goterm.GREEN
		switch {
		case status.Stale:
			c = goterm.RED
		case status.Held:
			c = goterm.YELLOW
		}
		fmt.Fprintf(stdout, "lock %s\n", paint(status.String(), c))
	}

	fc, err := counter.Load()
	if err != nil {
		return errors.WithContext(err, "load failure counter")
	}

	if fc.ConsecutiveFailures == 0 {
		fmt.Fprintf(stdout, "push: %s", paint("healthy", goterm.GREEN))
		if !fc.LastSuccessAt.IsZero() {
			fmt.Fprintf(stdout, " (last success %s)", fc.LastSuccessAt.Local().Format(time.RFC3339))
		}
		fmt.Fprintln(stdout)
	} else {
		fmt.Fprintf(stdout, "push: %s\n", paint(fmt.Sprintf("%d consecutive failures, last: %s (%s)",
			fc.ConsecutiveFailures, fc.LastFailureReason, fc.LastFailureKind), goterm.RED))
	}

	alert, err := afero.Exists(afero.NewOsFs(), notifier.AlertPath())
	if err != nil {
		return errors.WithContext(err, "check alert")
	}
	if alert {
		fmt.Fprintf(stdout, "%s see %s\n", paint("ALERT:", goterm.RED), notifier.ReportPath())
	}
	return nil
}
