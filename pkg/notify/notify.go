// Package notify escalates repeated push failures to a human. Once the
// failure counter reaches the threshold it writes a failure report and an
// alert sentinel into the state directory, and shows a single desktop
// notification for the incident. Both files are removed when a push succeeds.
package notify

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/state"
)

const (
	// ReportFile is the name of the human-readable failure report.
	ReportFile = "FAILURE_REPORT.txt"

	// AlertFile exists while an incident is active.
	AlertFile = "ALERT"
)

// Alerter shows a notification to the user.
type Alerter interface {
	Alert(title, message string) error
}

// Notifier reacts to changes of the failure counter.
type Notifier struct {
	stateDir  string
	threshold int

	fs      afero.Fs
	clock   clockwork.Clock
	alerter Alerter
	log     logrus.FieldLogger
}

// New creates a Notifier. If `alerter` is nil, incidents are only logged.
func New(log logrus.FieldLogger, stateDir string, threshold int, alerter Alerter) *Notifier {
	return &Notifier{
		stateDir:  stateDir,
		threshold: threshold,
		fs:        afero.NewOsFs(),
		clock:     clockwork.NewRealClock(),
		alerter:   alerter,
		log:       log,
	}
}

// ReportPath returns the location of the failure report.
func (n *Notifier) ReportPath() string {
	return filepath.Join(n.stateDir, ReportFile)
}

// AlertPath returns the location of the alert sentinel.
func (n *Notifier) AlertPath() string {
	return filepath.Join(n.stateDir, AlertFile)
}

// OnFailureCounterChanged must be called after every change of the counter.
func (n *Notifier) OnFailureCounterChanged(counter state.FailureCounter) error {
	if counter.ConsecutiveFailures == 0 {
		return n.clear()
	}

	if counter.ConsecutiveFailures < n.threshold {
		return nil
	}

	report := n.report(counter)
	if err := n.fs.MkdirAll(n.stateDir, 0755); err != nil {
		return errors.WithContext(err, "create state dir")
	}
	if err := afero.WriteFile(n.fs, n.ReportPath(), report, 0644); err != nil {
		return errors.WithContext(err, "write report")
	}
	if err := afero.WriteFile(n.fs, n.AlertPath(), nil, 0644); err != nil {
		return errors.WithContext(err, "write alert")
	}

	// Only the transition into the incident is announced.
	if counter.ConsecutiveFailures != n.threshold {
		return nil
	}

	n.log.WithFields(logrus.Fields{
		"failures": counter.ConsecutiveFailures,
		"kind":     counter.LastFailureKind,
		"reason":   counter.LastFailureReason,
		"report":   n.ReportPath(),
	}).Error("Pushing configuration keeps failing")

	if n.alerter != nil {
		msg := fmt.Sprintf("%d pushes in a row failed: %s. See %s.",
			counter.ConsecutiveFailures, counter.LastFailureReason, n.ReportPath())
		if err := n.alerter.Alert("dotsync: sync failing", msg); err != nil {
			// The report and the log line already carry the incident.
			n.log.WithError(err).Warn("Failed to show desktop notification")
		}
	}
	return nil
}

func (n *Notifier) clear() error {
	for _, path := range []string{n.ReportPath(), n.AlertPath()} {
		if err := n.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.WithContext(err, fmt.Sprintf("remove %s", path))
		}
	}
	return nil
}

func (n *Notifier) report(counter state.FailureCounter) []byte {
	kind := errors.ParseKind(counter.LastFailureKind)
	at := counter.LastFailureAt
	if at.IsZero() {
		at = n.clock.Now()
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "dotsync failure report")
	fmt.Fprintln(&buf)
	fmt.Fprintf(&buf, "Time:                 %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "Consecutive failures: %d\n", counter.ConsecutiveFailures)
	fmt.Fprintf(&buf, "Kind:                 %s\n", kind)
	fmt.Fprintf(&buf, "Reason:               %s\n", counter.LastFailureReason)
	if !counter.LastSuccessAt.IsZero() {
		fmt.Fprintf(&buf, "Last success:         %s\n", counter.LastSuccessAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "What to do:")
	fmt.Fprintln(&buf, kind.RemediationHint())
	return buf.Bytes()
}
