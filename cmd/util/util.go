package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/dotsync/pkg/errors"
)

// ConfigPath is the path to the machine config, set by the `--config` flag.
// The empty string selects the default path.
var ConfigPath string

// Mocked for unit testing.
var exit = os.Exit

type friendly interface {
	FriendlyMessage() string
}

// HandleFatalError prints `err` and exits. Friendly errors are printed
// as-is, everything else is logged with its context.
func HandleFatalError(err error) {
	if friendlyErr, ok := errors.RootCause(err).(friendly); ok {
		fmt.Fprintln(os.Stderr, friendlyErr.FriendlyMessage())
		log.WithError(err).Debug("Fatal error")
	} else {
		log.WithError(err).Error("Fatal error")
	}
	exit(1)
}

// HandlePanic logs the stack of a panic before exiting. It must be deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Panic: %v", r)
		exit(1)
	}
}

// SignalContext returns a context that's cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
