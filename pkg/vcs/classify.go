package vcs

import (
	"context"
	goerrors "errors"
	"io"
	"net"
	"os/exec"
	"strings"
	"syscall"

	"gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/transport"

	"github.com/sidkik/dotsync/pkg/errors"
)

type classification struct {
	kind   errors.Kind
	reason string
}

// sentinels maps the typed errors returned by go-git to their class.
var sentinels = []struct {
	err error
	classification
}{
	{transport.ErrAuthenticationRequired, classification{errors.FatalAuthError, "authentication required"}},
	{transport.ErrAuthorizationFailed, classification{errors.FatalAuthError, "authorization failed"}},
	{transport.ErrInvalidAuthMethod, classification{errors.FatalAuthError, "invalid auth method"}},
	{transport.ErrRepositoryNotFound, classification{errors.FatalAuthError, "repository not found"}},
	{git.ErrNonFastForwardUpdate, classification{errors.FatalConflictError, "local and remote history diverged"}},
	{ErrDiverged, classification{errors.FatalConflictError, "local and remote history diverged"}},
	{ErrMergeConflict, classification{errors.FatalConflictError, "merge conflict needs manual resolution"}},
	{exec.ErrNotFound, classification{errors.FatalConflictError, "git is not installed, diverged history can't be merged"}},
	{context.DeadlineExceeded, classification{errors.RetryableTimeout, "operation timed out"}},
	{syscall.ECONNRESET, classification{errors.RetryableNetworkError, "connection reset"}},
	{syscall.ECONNREFUSED, classification{errors.RetryableNetworkError, "connection refused"}},
	{syscall.ENETUNREACH, classification{errors.RetryableNetworkError, "network unreachable"}},
	{syscall.EHOSTUNREACH, classification{errors.RetryableNetworkError, "host unreachable"}},
	{syscall.ETIMEDOUT, classification{errors.RetryableTimeout, "connection timed out"}},
	{syscall.EPIPE, classification{errors.RetryableNetworkError, "connection closed by remote"}},
	{io.ErrUnexpectedEOF, classification{errors.RetryableNetworkError, "connection closed by remote"}},
	{io.EOF, classification{errors.RetryableNetworkError, "connection closed by remote"}},
}

// messages matches errors that go-git and x/crypto/ssh only surface as
// formatted strings.
var messages = []struct {
	substr string
	classification
}{
	{"ssh: unable to authenticate", classification{errors.FatalAuthError, "ssh authentication failed"}},
	{"knownhosts: key mismatch", classification{errors.FatalAuthError, "ssh host key mismatch"}},
	{"knownhosts: key is unknown", classification{errors.FatalAuthError, "ssh host key is unknown"}},
	{"refusing to merge unrelated histories", classification{errors.FatalConflictError, "local and remote history are unrelated"}},

	// The remote branch moved between the fetch and the push. The next
	// attempt fetches and merges again.
	{"non-fast-forward update", classification{errors.RetryableNetworkError, "remote moved during push"}},
}

// Classify turns an error from operation `op` into an errors.SyncError. Errors
// that don't match a known class are treated as transient remote errors, so
// they get the bounded retry budget rather than none at all.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if syncErr, ok := errors.AsSyncError(err); ok {
		return syncErr
	}

	c := classify(err)
	return errors.SyncError{Op: op, Kind: c.kind, Reason: c.reason, Err: err}
}

func classify(err error) classification {
	for _, cause := range causes(err) {
		for _, s := range sentinels {
			if cause == s.err {
				return s.classification
			}
		}

		var dnsErr *net.DNSError
		if goerrors.As(cause, &dnsErr) {
			if dnsErr.IsTimeout {
				return classification{errors.RetryableTimeout, "dns lookup timed out"}
			}
			return classification{errors.RetryableNetworkError, "dns lookup failed"}
		}

		if netErr, ok := cause.(net.Error); ok && netErr.Timeout() {
			return classification{errors.RetryableTimeout, "network timeout"}
		}

		if _, ok := cause.(*plumbing.UnexpectedError); ok {
			return classification{errors.RetryableNetworkError, "unexpected response from remote"}
		}
	}

	msg := err.Error()
	for _, m := range messages {
		if strings.Contains(msg, m.substr) {
			return m.classification
		}
	}

	for _, cause := range causes(err) {
		if _, ok := cause.(*net.OpError); ok {
			return classification{errors.RetryableNetworkError, "network error"}
		}
	}
	return classification{errors.RetryableNetworkError, "transient remote error"}
}

// causes returns the chain of errors wrapped by `err`, outermost first. go-git
// predates error wrapping, so its wrapper types are unwrapped by hand.
func causes(err error) (chain []error) {
	for err != nil && len(chain) < 32 {
		chain = append(chain, err)
		switch e := err.(type) {
		case *plumbing.PermanentError:
			err = e.Err
		case *plumbing.UnexpectedError:
			err = e.Err
		case *net.OpError:
			err = e.Err
		case *net.DNSError:
			err = nil
		default:
			err = goerrors.Unwrap(err)
		}
	}
	return chain
}
