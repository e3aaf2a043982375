// Package vcs wraps the version-control operations dotsync needs. Every
// error returned by a network operation is an errors.SyncError, classified
// from the typed errors surfaced by go-git and the network stack.
package vcs

import (
	"context"

	"github.com/sidkik/dotsync/pkg/errors"
)

//go:generate mockery -name Client

// Divergence describes how the local branch relates to the remote-tracking
// branch.
type Divergence int

const (
	UpToDate Divergence = iota

	// Ahead means there are local commits to push.
	Ahead

	// Behind means there are remote commits to integrate.
	Behind

	// Diverged means both sides have commits the other lacks.
	Diverged
)

func (d Divergence) String() string {
	switch d {
	case UpToDate:
		return "up-to-date"
	case Ahead:
		return "ahead"
	case Behind:
		return "behind"
	case Diverged:
		return "diverged"
	default:
		return "unknown"
	}
}

var (
	// ErrDiverged is returned when history can't be fast-forwarded.
	ErrDiverged = errors.New("local and remote history diverged")

	// ErrMergeConflict is returned by Merge when both sides changed the same
	// lines. The merge is aborted and the working tree is left as it was.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrDirtyWorktree is returned by FastForward and Merge when the working
	// tree has uncommitted changes. Nothing is touched; the push watcher will
	// commit them.
	ErrDirtyWorktree = errors.New("working tree has uncommitted changes")
)

// Client is the set of version-control primitives used by the watchers.
type Client interface {
	// Path returns the root of the working tree.
	Path() string

	// Dirty returns the paths with uncommitted changes.
	Dirty() ([]string, error)

	// Commit stages every change in the working tree and commits it. It
	// returns false if there was nothing to commit.
	Commit(message string) (hash string, committed bool, err error)

	// Head returns the hash of the current commit, or "" for an empty repository.
	Head() (string, error)

	// Fetch updates the remote-tracking branch.
	Fetch(ctx context.Context) error

	// Divergence compares HEAD with the remote-tracking branch as of the
	// last Fetch.
	Divergence() (Divergence, error)

	// Push delivers local commits to the remote.
	Push(ctx context.Context) error

	// FastForward integrates remote commits into the working tree.
	FastForward(ctx context.Context) error

	// Merge integrates a diverged remote-tracking branch with a merge commit.
	Merge(ctx context.Context) error

	// ChangedFiles lists the paths that differ between two commits. If
	// `from` is empty, every file in `to` is returned.
	ChangedFiles(from, to string) ([]string, error)
}
