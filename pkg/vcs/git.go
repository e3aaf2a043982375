package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/src-d/go-git.v4"
	gitconfig "gopkg.in/src-d/go-git.v4/config"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/transport"
	githttp "gopkg.in/src-d/go-git.v4/plumbing/transport/http"
	gitssh "gopkg.in/src-d/go-git.v4/plumbing/transport/ssh"

	"github.com/sidkik/dotsync/pkg/config"
	"github.com/sidkik/dotsync/pkg/errors"
)

// Git implements Client with go-git.
type Git struct {
	repo   *git.Repository
	path   string
	remote string
	branch string
	auth   transport.AuthMethod
	author config.Author

	// network is held by the goroutine running a network operation. An
	// operation that outlives its deadline keeps holding it until go-git
	// returns, and the repository isn't touched by anyone else meanwhile.
	network sync.Mutex
}

// Open opens the repository described by `cfg`.
func Open(cfg config.Config) (*Git, error) {
	repo, err := git.PlainOpen(cfg.Repo)
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return nil, errors.NewFriendlyError("%q is not a git repository. "+
				"Clone your configuration repository there, or fix the `repo` "+
				"field in %q.", cfg.Repo, cfg.GetPath())
		}
		return nil, errors.WithContext(err, "open repository")
	}

	auth, err := authMethod(cfg.Auth)
	if err != nil {
		return nil, errors.WithContext(err, "load credentials")
	}

	return &Git{
		repo:   repo,
		path:   cfg.Repo,
		remote: cfg.Remote,
		branch: cfg.Branch,
		auth:   auth,
		author: cfg.Author,
	}, nil
}

func authMethod(cfg config.Auth) (transport.AuthMethod, error) {
	switch {
	case cfg.SSHKey != "":
		user := cfg.SSHUser
		if user == "" {
			user = "git"
		}
		return gitssh.NewPublicKeysFromFile(user, cfg.SSHKey, "")
	case cfg.Username != "":
		return &githttp.BasicAuth{
			Username: cfg.Username,
			Password: os.Getenv(cfg.PasswordEnv),
		}, nil
	default:
		// go-git falls back to the SSH agent for SSH remotes.
		return nil, nil
	}
}

// Path implements Client.
func (g *Git) Path() string {
	return g.path
}

// Dirty implements Client.
func (g *Git) Dirty() ([]string, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return nil, errors.WithContext(err, "get worktree")
	}

	status, err := wt.Status()
	if err != nil {
		return nil, errors.WithContext(err, "get status")
	}

	var paths []string
	for path, fileStatus := range status {
		if fileStatus.Staging == git.Unmodified && fileStatus.Worktree == git.Unmodified {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Commit implements Client.
func (g *Git) Commit(message string) (string, bool, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", false, errors.WithContext(err, "get worktree")
	}

	status, err := wt.Status()
	if err != nil {
		return "", false, errors.WithContext(err, "get status")
	}

	if status.IsClean() {
		return "", false, nil
	}

	for path, fileStatus := range status {
		switch {
		case fileStatus.Worktree == git.Deleted:
			if _, err := wt.Remove(path); err != nil {
				return "", false, errors.WithContext(err, fmt.Sprintf("stage removal of %s", path))
			}
		case fileStatus.Worktree != git.Unmodified:
			if _, err := wt.Add(path); err != nil {
				return "", false, errors.WithContext(err, fmt.Sprintf("stage %s", path))
			}
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.author.Name,
			Email: g.author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", false, errors.WithContext(err, "commit")
	}
	return hash.String(), true, nil
}

// Head implements Client.
func (g *Git) Head() (string, error) {
	head, err := g.repo.Head()
	if err == plumbing.ErrReferenceNotFound {
		return "", nil
	} else if err != nil {
		return "", errors.WithContext(err, "resolve HEAD")
	}
	return head.Hash().String(), nil
}

// Fetch implements Client.
func (g *Git) Fetch(ctx context.Context) error {
	return g.runNetwork(ctx, "fetch", func(ctx context.Context) error {
		err := g.repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: g.remote,
			Auth:       g.auth,
		})
		if err == git.NoErrAlreadyUpToDate || err == transport.ErrEmptyRemoteRepository {
			return nil
		}
		return err
	})
}

// Push implements Client.
func (g *Git) Push(ctx context.Context) error {
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%[1]s:refs/heads/%[1]s", g.branch))
	return g.runNetwork(ctx, "push", func(ctx context.Context) error {
		err := g.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: g.remote,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth:       g.auth,
		})
		if err == git.NoErrAlreadyUpToDate {
			return nil
		}
		return err
	})
}

// FastForward implements Client.
func (g *Git) FastForward(ctx context.Context) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return errors.WithContext(err, "get worktree")
	}

	// go-git moves the branch before it checks the working tree, so a dirty
	// tree has to be caught up front.
	status, err := wt.Status()
	if err != nil {
		return errors.WithContext(err, "get status")
	}
	if !status.IsClean() {
		return ErrDirtyWorktree
	}

	before, err := g.repo.Head()
	if err != nil && err != plumbing.ErrReferenceNotFound {
		return errors.WithContext(err, "resolve HEAD")
	}

	return g.runNetwork(ctx, "fast-forward", func(ctx context.Context) error {
		err := wt.PullContext(ctx, &git.PullOptions{
			RemoteName:    g.remote,
			ReferenceName: plumbing.NewBranchReferenceName(g.branch),
			SingleBranch:  true,
			Auth:          g.auth,
		})
		switch err {
		case nil, git.NoErrAlreadyUpToDate:
			return nil
		case git.ErrUnstagedChanges:
			// The tree was edited after the status check.
			if before != nil {
				restore := plumbing.NewHashReference(before.Name(), before.Hash())
				if err := g.repo.Storer.SetReference(restore); err != nil {
					return errors.WithContext(err, "restore branch")
				}
			}
			return ErrDirtyWorktree
		case git.ErrNonFastForwardUpdate:
			return ErrDiverged
		default:
			return err
		}
	})
}

// Merge implements Client. go-git can't do a three-way merge, so this runs
// `git merge` in the working tree. On a conflict the merge is aborted, and
// an errors.SyncError of kind FatalConflictError is returned.
func (g *Git) Merge(ctx context.Context) error {
	dirty, err := g.Dirty()
	if err != nil {
		return err
	}
	if len(dirty) != 0 {
		return ErrDirtyWorktree
	}

	tracking := plumbing.NewRemoteReferenceName(g.remote, g.branch).String()
	out, err := g.git(ctx, "merge", "--no-edit", tracking)
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		err = context.DeadlineExceeded
	}

	// Use a fresh context: cleanup has to run even if `ctx` expired.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conflicts, diffErr := g.git(cleanupCtx, "diff", "--name-only", "--diff-filter=U")
	if _, statErr := os.Stat(filepath.Join(g.path, ".git", "MERGE_HEAD")); statErr == nil {
		if abortOut, abortErr := g.git(cleanupCtx, "merge", "--abort"); abortErr != nil {
			return errors.WithContext(abortErr, fmt.Sprintf("abort merge: %s", strings.TrimSpace(abortOut)))
		}
	}

	if paths := strings.Fields(conflicts); diffErr == nil && len(paths) != 0 {
		return Classify("merge", errors.WithContext(ErrMergeConflict,
			fmt.Sprintf("conflicting paths %s", strings.Join(paths, ", "))))
	}
	if msg := strings.TrimSpace(out); msg != "" {
		err = errors.WithContext(err, msg)
	}
	return Classify("merge", err)
}

// git runs the git command line tool in the working tree, and returns its
// combined output.
func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	// Automatic gc could move objects into a packfile that go-git has already
	// indexed.
	globalArgs := []string{"-c", "gc.auto=0"}
	if g.author.Name != "" {
		globalArgs = append(globalArgs, "-c", "user.name="+g.author.Name)
	}
	if g.author.Email != "" {
		globalArgs = append(globalArgs, "-c", "user.email="+g.author.Email)
	}

	cmd := exec.CommandContext(ctx, "git", append(globalArgs, args...)...)
	cmd.Dir = g.path
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Divergence implements Client.
func (g *Git) Divergence() (Divergence, error) {
	head, err := g.repo.Head()
	if err == plumbing.ErrReferenceNotFound {
		return UpToDate, nil
	} else if err != nil {
		return UpToDate, errors.WithContext(err, "resolve HEAD")
	}

	remoteRef, err := g.repo.Reference(plumbing.NewRemoteReferenceName(g.remote, g.branch), true)
	if err == plumbing.ErrReferenceNotFound {
		// The branch doesn't exist on the remote yet.
		return Ahead, nil
	} else if err != nil {
		return UpToDate, errors.WithContext(err, "resolve remote branch")
	}

	if head.Hash() == remoteRef.Hash() {
		return UpToDate, nil
	}

	local, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return UpToDate, errors.WithContext(err, "get local commit")
	}
	remote, err := g.repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return UpToDate, errors.WithContext(err, "get remote commit")
	}
	return divergence(local, remote)
}

func divergence(local, remote *object.Commit) (Divergence, error) {
	remoteIsAncestor, err := remote.IsAncestor(local)
	if err != nil {
		return UpToDate, errors.WithContext(err, "walk history")
	}
	if remoteIsAncestor {
		return Ahead, nil
	}

	localIsAncestor, err := local.IsAncestor(remote)
	if err != nil {
		return UpToDate, errors.WithContext(err, "walk history")
	}
	if localIsAncestor {
		return Behind, nil
	}
	return Diverged, nil
}

// ChangedFiles implements Client.
func (g *Git) ChangedFiles(from, to string) ([]string, error) {
	toTree, err := g.tree(to)
	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("get tree for %s", to))
	}

	changed := map[string]struct{}{}
	if from == "" {
		err := toTree.Files().ForEach(func(f *object.File) error {
			changed[f.Name] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, errors.WithContext(err, "list files")
		}
	} else {
		fromTree, err := g.tree(from)
		if err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("get tree for %s", from))
		}

		changes, err := object.DiffTree(fromTree, toTree)
		if err != nil {
			return nil, errors.WithContext(err, "diff trees")
		}

		for _, change := range changes {
			for _, name := range []string{change.From.Name, change.To.Name} {
				if name != "" {
					changed[name] = struct{}{}
				}
			}
		}
	}

	var paths []string
	for path := range changed {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func (g *Git) tree(hash string) (*object.Tree, error) {
	commit, err := g.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}

// runNetwork runs `fn` and classifies its error. It returns as soon as `ctx`
// is done even if go-git doesn't notice the cancellation, so a hung
// connection can't hang the caller.
func (g *Git) runNetwork(ctx context.Context, op string, fn func(context.Context) error) error {
	if !g.network.TryLock() {
		return errors.SyncError{
			Op:     op,
			Kind:   errors.RetryableTimeout,
			Reason: "previous operation is still running",
		}
	}

	result := make(chan error, 1)
	go func() {
		defer g.network.Unlock()
		result <- fn(ctx)
	}()

	select {
	case err := <-result:
		if err == ErrDirtyWorktree {
			return err
		}
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		return Classify(op, err)
	case <-ctx.Done():
		return Classify(op, ctx.Err())
	}
}
