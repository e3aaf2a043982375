package errors

import (
	goerrors "errors"
	"fmt"
)

// Kind classifies why a sync operation against the remote failed.
type Kind int

const (
	// KindUnknown is the zero value. It's never produced by the classifier.
	KindUnknown Kind = iota

	// RetryableNetworkError covers unreachable networks, DNS failures,
	// connection resets and transient remote errors.
	RetryableNetworkError

	// RetryableTimeout is returned when an operation exceeded its deadline.
	RetryableTimeout

	// FatalAuthError covers rejected credentials and missing repositories.
	FatalAuthError

	// FatalConflictError means local and remote history diverged and a human
	// has to merge them.
	FatalConflictError
)

func (k Kind) String() string {
	switch k {
	case RetryableNetworkError:
		return "RetryableNetworkError"
	case RetryableTimeout:
		return "RetryableTimeout"
	case FatalAuthError:
		return "FatalAuthError"
	case FatalConflictError:
		return "FatalConflictError"
	default:
		return "Unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for _, k := range []Kind{RetryableNetworkError, RetryableTimeout, FatalAuthError, FatalConflictError} {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// Retryable returns whether an error of this kind is plausibly transient.
func (k Kind) Retryable() bool {
	return k == RetryableNetworkError || k == RetryableTimeout
}

// RemediationHint tells a human what to try for failures of this kind.
func (k Kind) RemediationHint() string {
	switch k {
	case RetryableNetworkError:
		return "The remote could not be reached. Check the network connection " +
			"and that the remote host is up. The next change will retry automatically."
	case RetryableTimeout:
		return "Operations against the remote timed out. Check for a slow or " +
			"captive network. The next change will retry automatically."
	case FatalAuthError:
		return "The remote rejected the credentials or the repository does not " +
			"exist. Check the SSH key or token in the dotsync config and the " +
			"remote URL, then run `dotsync push --once`."
	case FatalConflictError:
		return "Local and remote history diverged. Run `git pull` in the " +
			"repository, resolve the conflicts, commit, then run `dotsync push --once`."
	default:
		return "Inspect the dotsync logs for details."
	}
}

// SyncError is a classified failure of an operation against the remote.
type SyncError struct {
	// Op is the operation that failed, e.g. "fetch" or "push".
	Op string

	Kind Kind

	// Reason is a short, human readable classification such as
	// "dns lookup failed".
	Reason string

	Err error
}

func (err SyncError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("%s: %s (%s)", err.Op, err.Reason, err.Kind)
	}
	return fmt.Sprintf("%s: %s (%s): %s", err.Op, err.Reason, err.Kind, err.Err)
}

func (err SyncError) Unwrap() error {
	return err.Err
}

// AsSyncError extracts the SyncError wrapped in `err`, if any.
func AsSyncError(err error) (SyncError, bool) {
	var syncErr SyncError
	if goerrors.As(err, &syncErr) {
		return syncErr, true
	}
	return SyncError{}, false
}

// DeployError is returned when the deployment tool failed after the sync
// itself succeeded.
type DeployError struct {
	Command string
	Output  string
	Err     error
}

func (err DeployError) Error() string {
	return fmt.Sprintf("deploy %q failed: %s", err.Command, err.Err)
}

func (err DeployError) Unwrap() error {
	return err.Err
}
