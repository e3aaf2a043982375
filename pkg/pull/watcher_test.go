package pull

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/dotsync/pkg/errors"
	"github.com/sidkik/dotsync/pkg/lock"
	"github.com/sidkik/dotsync/pkg/metrics"
	"github.com/sidkik/dotsync/pkg/service"
	serviceMocks "github.com/sidkik/dotsync/pkg/service/mocks"
	"github.com/sidkik/dotsync/pkg/vcs"
	vcsMocks "github.com/sidkik/dotsync/pkg/vcs/mocks"
)

type fakeLocker struct {
	busy     bool
	held     bool
	released int
}

func (l *fakeLocker) WithLock(name string, fn func(*lock.Handle) error) error {
	if l.busy {
		return lock.ErrLockBusy
	}
	l.held = true
	defer func() {
		l.held = false
		l.released++
	}()
	return fn(&lock.Handle{Name: name})
}

type fakeDeployer struct {
	deploys int
	err     error
}

func (d *fakeDeployer) Deploy(context.Context, string) error {
	d.deploys++
	return d.err
}

type testWatcher struct {
	*Watcher
	client     *vcsMocks.Client
	supervisor *serviceMocks.Supervisor
	deployer   *fakeDeployer
	locks      *fakeLocker
}

func newTestWatcher(t *testing.T) testWatcher {
	repo := t.TempDir()
	writeRepoFile(t, repo, "services/backup.service.yaml",
		"name: backup\nplatform: systemd\nenabled: true\ndefinition: backup.service")
	writeRepoFile(t, repo, "services/backup.service", "[Service]")
	writeRepoFile(t, repo, "services/sync.service.yaml",
		"name: sync\nplatform: systemd\ndefinition: sync.service")
	writeRepoFile(t, repo, "services/sync.service", "[Service]")

	logger, _ := test.NewNullLogger()
	client := &vcsMocks.Client{}
	client.On("Path").Return(repo)
	supervisor := &serviceMocks.Supervisor{}
	supervisor.On("Platform").Return(service.Systemd)
	deployer := &fakeDeployer{}
	locks := &fakeLocker{}
	m := metrics.New(logger, "")

	w := NewWatcher(logger, client, locks, deployer, service.NewActivator(logger, supervisor, m), m, nil,
		Config{
			StateDir:    "/state",
			Interval:    3 * time.Minute,
			ReadTimeout: time.Minute,
			Exclude:     []string{"README.md", "docs"},
		})
	w.integrated = newIntegratedStore(afero.NewMemMapFs(), "/state")
	return testWatcher{w, client, supervisor, deployer, locks}
}

func writeRepoFile(t *testing.T, repo, path, contents string) {
	fullPath := filepath.Join(repo, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
	require.NoError(t, os.WriteFile(fullPath, []byte(contents), 0644))
}

func TestTickBehind(t *testing.T) {
	tw := newTestWatcher(t)
	require.NoError(t, tw.integrated.Save("old"))

	tw.client.On("Fetch", mock.Anything).Return(nil).Once()
	tw.client.On("Divergence").Return(vcs.Behind, nil).Once()
	tw.client.On("FastForward", mock.Anything).Return(nil).Once()
	tw.client.On("Head").Return("new", nil)
	tw.client.On("ChangedFiles", "old", "new").Return([]string{
		".zshrc", "services/backup.service.yaml", "services/sync.service",
	}, nil).Once()
	tw.supervisor.On("IsActive", mock.Anything, mock.MatchedBy(func(d service.Descriptor) bool {
		return d.Name == "backup"
	})).Return(false, nil).Once()
	tw.supervisor.On("Activate", mock.Anything, mock.Anything,
		filepath.Join(tw.client.Path(), "services/backup.service")).Return(nil).Once()

	assert.NoError(t, tw.Tick(context.Background()))
	assert.Equal(t, 1, tw.deployer.deploys)
	assert.Equal(t, 1, tw.locks.released)

	integrated, err := tw.integrated.Load()
	assert.NoError(t, err)
	assert.Equal(t, "new", integrated)

	// The disabled `sync` service is never queried.
	tw.supervisor.AssertExpectations(t)
	tw.supervisor.AssertNumberOfCalls(t, "IsActive", 1)
	tw.client.AssertExpectations(t)

	// Nothing new on the next tick.
	tw.client.On("Fetch", mock.Anything).Return(nil).Once()
	tw.client.On("Divergence").Return(vcs.UpToDate, nil).Once()
	assert.NoError(t, tw.Tick(context.Background()))
	assert.Equal(t, 1, tw.deployer.deploys)
}

func TestTickExcludedOnly(t *testing.T) {
	tw := newTestWatcher(t)
	require.NoError(t, tw.integrated.Save("old"))

	tw.client.On("Fetch", mock.Anything).Return(nil)
	tw.client.On("Divergence").Return(vcs.Behind, nil)
	tw.client.On("FastForward", mock.Anything).Return(nil)
	tw.client.On("Head").Return("new", nil)
	tw.client.On("ChangedFiles", "old", "new").Return([]string{"README.md", "docs/setup.md"}, nil)

	assert.NoError(t, tw.Tick(context.Background()))
	assert.Zero(t, tw.deployer.deploys)
}

func TestTickFirstRunDeploysEverything(t *testing.T) {
	tw := newTestWatcher(t)
	tw.client.On("Fetch", mock.Anything).Return(nil)
	tw.client.On("Divergence").Return(vcs.UpToDate, nil)
	tw.client.On("Head").Return("head", nil)
	tw.client.On("ChangedFiles", "", "head").Return([]string{".zshrc"}, nil).Once()

	assert.NoError(t, tw.Tick(context.Background()))
	assert.Equal(t, 1, tw.deployer.deploys)
}

func TestTickForcePushedHistory(t *testing.T) {
	tw := newTestWatcher(t)
	require.NoError(t, tw.integrated.Save("gone"))
	tw.client.On("Fetch", mock.Anything).Return(nil)
	tw.client.On("Divergence").Return(vcs.UpToDate, nil)
	tw.client.On("Head").Return("head", nil)
	tw.client.On("ChangedFiles", "gone", "head").Return(nil, errors.New("object not found")).Once()
	tw.client.On("ChangedFiles", "", "head").Return([]string{".zshrc"}, nil).Once()

	assert.NoError(t, tw.Tick(context.Background()))
	assert.Equal(t, 1, tw.deployer.deploys)
	tw.client.AssertExpectations(t)
}

func TestTickDeployError(t *testing.T) {
	tw := newTestWatcher(t)
	tw.deployer.err = errors.DeployError{Command: "chezmoi apply", Err: errors.New("exit status 1")}
	require.NoError(t, tw.integrated.Save("old"))

	tw.client.On("Fetch", mock.Anything).Return(nil)
	tw.client.On("Divergence").Return(vcs.UpToDate, nil)
	tw.client.On("Head").Return("new", nil)
	tw.client.On("ChangedFiles", "old", "new").Return([]string{".zshrc"}, nil)

	err := tw.Tick(context.Background())
	assert.IsType(t, errors.DeployError{}, err)
	_, isSyncErr := errors.AsSyncError(err)
	assert.False(t, isSyncErr)

	// The commit is deployed again on the next tick.
	integrated, err := tw.integrated.Load()
	assert.NoError(t, err)
	assert.Equal(t, "old", integrated)
	assert.Equal(t, 1, tw.locks.released)
}

func TestTickDivergedMerges(t *testing.T) {
	tw := newTestWatcher(t)
	require.NoError(t, tw.integrated.Save("old"))

	tw.client.On("Fetch", mock.Anything).Return(nil).Once()
	tw.client.On("Divergence").Return(vcs.Diverged, nil).Once()
	tw.client.On("Merge", mock.Anything).Return(nil).Once()
	tw.client.On("Head").Return("merged", nil)
	tw.client.On("ChangedFiles", "old", "merged").Return([]string{".zshrc"}, nil).Once()

	assert.NoError(t, tw.Tick(context.Background()))
	assert.Equal(t, 1, tw.deployer.deploys)
	tw.client.AssertNotCalled(t, "FastForward", mock.Anything)
	tw.client.AssertExpectations(t)

	integrated, err := tw.integrated.Load()
	assert.NoError(t, err)
	assert.Equal(t, "merged", integrated)
}

func TestTickMergeConflict(t *testing.T) {
	tw := newTestWatcher(t)
	tw.client.On("Fetch", mock.Anything).Return(nil)
	tw.client.On("Divergence").Return(vcs.Diverged, nil)
	tw.client.On("Merge", mock.Anything).Return(errors.SyncError{
		Op: "merge", Kind: errors.FatalConflictError, Reason: "merge conflict needs manual resolution"})

	err := tw.Tick(context.Background())
	syncErr, ok := errors.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, errors.FatalConflictError, syncErr.Kind)
	assert.Zero(t, tw.deployer.deploys)
	tw.client.AssertNotCalled(t, "Head")
}

func TestTickDirtyWorktree(t *testing.T) {
	tests := []struct {
		div    vcs.Divergence
		update string
	}{
		{vcs.Behind, "FastForward"},
		{vcs.Diverged, "Merge"},
	}

	for _, test := range tests {
		tw := newTestWatcher(t)
		tw.client.On("Fetch", mock.Anything).Return(nil)
		tw.client.On("Divergence").Return(test.div, nil)
		tw.client.On(test.update, mock.Anything).Return(vcs.ErrDirtyWorktree)

		assert.NoError(t, tw.Tick(context.Background()), test.update)
		assert.Zero(t, tw.deployer.deploys, test.update)
		tw.client.AssertNotCalled(t, "Head")
	}
}

func TestTickFetchError(t *testing.T) {
	tw := newTestWatcher(t)
	fetchErr := errors.SyncError{Op: "fetch", Kind: errors.RetryableTimeout, Reason: "operation timed out"}
	tw.client.On("Fetch", mock.Anything).Return(fetchErr)

	assert.Equal(t, fetchErr, tw.Tick(context.Background()))
	assert.Equal(t, 1, tw.locks.released)
}

func TestTickBusy(t *testing.T) {
	tw := newTestWatcher(t)
	tw.locks.busy = true

	assert.NoError(t, tw.Tick(context.Background()))
	tw.client.AssertNotCalled(t, "Fetch", mock.Anything)
}

func TestRunWakesUp(t *testing.T) {
	tw := newTestWatcher(t)
	wake := make(chan struct{})
	tw.wake = wake
	clock := clockwork.NewFakeClock()
	tw.clock = clock

	ticks := make(chan struct{}, 8)
	tw.client.On("Fetch", mock.Anything).Run(func(mock.Arguments) {
		ticks <- struct{}{}
	}).Return(nil)
	tw.client.On("Divergence").Return(vcs.UpToDate, nil)
	tw.client.On("Head").Return("", nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		tw.Run(ctx)
		close(stopped)
	}()

	// Initial tick.
	<-ticks

	wake <- struct{}{}
	<-ticks

	clock.BlockUntil(1)
	clock.Advance(3 * time.Minute)
	<-ticks

	cancel()
	<-stopped
}

func TestExcluded(t *testing.T) {
	w := Watcher{config: Config{Exclude: []string{"*.md", "docs/", "scripts/*.sh"}}}
	assert.True(t, w.excluded("README.md"))
	assert.True(t, w.excluded("nvim/README.md"))
	assert.True(t, w.excluded("docs/a/b.txt"))
	assert.True(t, w.excluded("scripts/setup.sh"))
	assert.False(t, w.excluded(".zshrc"))
	assert.False(t, w.excluded("scripts/setup.py"))
}
