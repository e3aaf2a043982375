package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sidkik/dotsync/pkg/errors"
)

//go:generate mockery -name Supervisor

// Supervisor controls services through the platform's service manager.
type Supervisor interface {
	Platform() Platform

	// IsActive returns whether the service is currently running.
	IsActive(ctx context.Context, d Descriptor) (bool, error)

	// Activate registers the definition at `definition` and starts the
	// service.
	Activate(ctx context.Context, d Descriptor, definition string) error

	// Restart reloads the definition at `definition` and restarts the
	// running service.
	Restart(ctx context.Context, d Descriptor, definition string) error
}

// runner runs a command and returns its combined output. It's mocked out in
// unit tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, errors.WithContext(err, fmt.Sprintf("%s %s: %s",
			name, strings.Join(args, " "), strings.TrimSpace(string(out))))
	}
	return out, nil
}

// ForCurrentPlatform returns the supervisor for the running OS, or nil if
// services aren't supported on it.
func ForCurrentPlatform() Supervisor {
	switch runtime.GOOS {
	case "linux":
		return SystemdUser{run: runCommand}
	case "darwin":
		return LaunchdAgent{run: runCommand, uid: os.Getuid()}
	default:
		return nil
	}
}

// SystemdUser manages systemd user units.
type SystemdUser struct {
	run runner
}

// Platform implements Supervisor.
func (s SystemdUser) Platform() Platform {
	return Systemd
}

func unitName(d Descriptor) string {
	if strings.Contains(d.Name, ".") {
		return d.Name
	}
	return d.Name + ".service"
}

// IsActive implements Supervisor.
func (s SystemdUser) IsActive(ctx context.Context, d Descriptor) (bool, error) {
	out, err := s.run(ctx, "systemctl", "--user", "is-active", unitName(d))
	state := strings.TrimSpace(string(out))
	if err == nil {
		return true, nil
	}

	// is-active exits non-zero for every state except active.
	if _, ok := errors.RootCause(err).(*exec.ExitError); ok && state != "" {
		return state == "activating" || state == "reloading", nil
	}
	return false, err
}

// Activate implements Supervisor.
func (s SystemdUser) Activate(ctx context.Context, d Descriptor, definition string) error {
	if _, err := s.run(ctx, "systemctl", "--user", "link", definition); err != nil {
		return errors.WithContext(err, "link unit")
	}
	if _, err := s.run(ctx, "systemctl", "--user", "enable", "--now", unitName(d)); err != nil {
		return errors.WithContext(err, "enable unit")
	}
	return nil
}

// Restart implements Supervisor.
func (s SystemdUser) Restart(ctx context.Context, d Descriptor, definition string) error {
	if _, err := s.run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
		return errors.WithContext(err, "reload units")
	}
	if _, err := s.run(ctx, "systemctl", "--user", "restart", unitName(d)); err != nil {
		return errors.WithContext(err, "restart unit")
	}
	return nil
}

// LaunchdAgent manages launchd agents in the user's GUI domain.
type LaunchdAgent struct {
	run runner
	uid int
}

// Platform implements Supervisor.
func (l LaunchdAgent) Platform() Platform {
	return Launchd
}

func (l LaunchdAgent) domain() string {
	return fmt.Sprintf("gui/%d", l.uid)
}

func (l LaunchdAgent) target(d Descriptor) string {
	return l.domain() + "/" + d.Name
}

// IsActive implements Supervisor.
func (l LaunchdAgent) IsActive(ctx context.Context, d Descriptor) (bool, error) {
	out, err := l.run(ctx, "launchctl", "print", l.target(d))
	if err != nil {
		if _, ok := errors.RootCause(err).(*exec.ExitError); ok {
			// The service isn't loaded.
			return false, nil
		}
		return false, err
	}
	return strings.Contains(string(out), "state = running"), nil
}

// Activate implements Supervisor.
func (l LaunchdAgent) Activate(ctx context.Context, d Descriptor, definition string) error {
	// A loaded but stopped agent has to be kicked rather than bootstrapped.
	if _, err := l.run(ctx, "launchctl", "print", l.target(d)); err == nil {
		if _, err := l.run(ctx, "launchctl", "kickstart", l.target(d)); err != nil {
			return errors.WithContext(err, "kickstart agent")
		}
		return nil
	}

	if _, err := l.run(ctx, "launchctl", "bootstrap", l.domain(), definition); err != nil {
		return errors.WithContext(err, "bootstrap agent")
	}
	return nil
}

// Restart implements Supervisor. The agent is booted out and bootstrapped
// again so that launchd reads the new plist.
func (l LaunchdAgent) Restart(ctx context.Context, d Descriptor, definition string) error {
	if _, err := l.run(ctx, "launchctl", "bootout", l.target(d)); err != nil {
		return errors.WithContext(err, "bootout agent")
	}
	if _, err := l.run(ctx, "launchctl", "bootstrap", l.domain(), filepath.Clean(definition)); err != nil {
		return errors.WithContext(err, "bootstrap agent")
	}
	return nil
}
