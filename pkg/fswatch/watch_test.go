package fswatch

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDirsToWatch(t *testing.T) {
	tests := []struct {
		name     string
		dirs     []string
		files    []string
		expPaths []string
	}{
		{
			name:     "Nested directories",
			dirs:     []string{"/repo/nvim", "/repo/nvim/lua", "/repo/services"},
			files:    []string{"/repo/.zshrc", "/repo/nvim/init.lua", "/repo/services/backup.service"},
			expPaths: []string{"/repo", "/repo/nvim", "/repo/nvim/lua", "/repo/services"},
		},
		{
			name:     "Don't watch the git directory",
			dirs:     []string{"/repo/.git", "/repo/.git/objects", "/repo/nvim"},
			files:    []string{"/repo/.git/HEAD", "/repo/nvim/init.lua"},
			expPaths: []string{"/repo", "/repo/nvim"},
		},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		assert.NoError(t, fs.Mkdir("/repo", 0755))
		for _, dir := range test.dirs {
			assert.NoError(t, fs.MkdirAll(dir, 0755))
		}
		for _, file := range test.files {
			assert.NoError(t, afero.WriteFile(fs, file, []byte("testfile"), 0644))
		}

		paths, err := getDirsToWatch("/repo")
		assert.NoError(t, err)

		// Sort for consistency.
		sort.Strings(test.expPaths)
		sort.Strings(paths)
		assert.Equal(t, test.expPaths, paths, test.name)
	}
}

func TestGetDirsToWatchErrors(t *testing.T) {
	fs = afero.NewMemMapFs()
	_, err := getDirsToWatch("/missing")
	assert.EqualError(t, err, `"/missing" does not exist`)

	assert.NoError(t, afero.WriteFile(fs, "/file", nil, 0644))
	_, err = getDirsToWatch("/file")
	assert.EqualError(t, err, `"/file" is not a directory`)
}

func TestIsGitPath(t *testing.T) {
	assert.True(t, isGitPath("/repo", "/repo/.git"))
	assert.True(t, isGitPath("/repo", "/repo/.git/index.lock"))
	assert.False(t, isGitPath("/repo", "/repo/.gitconfig"))
	assert.False(t, isGitPath("/repo", "/repo/nvim/.git-blame-ignore"))
}

func TestCombineUpdates(t *testing.T) {
	t.Parallel()

	updates := make(chan fsnotify.Event, 1024)
	addEvents := func(num int) {
		for i := 0; i < num; i++ {
			updates <- fsnotify.Event{}
		}
	}

	// Seed with events.
	numUpdates := 100
	addEvents(numUpdates)
	combined := combineUpdates(updates)

	// Assert that the events are being combined.
	numCombined := countEvents(combined)
	assert.True(t, numCombined < numUpdates,
		"expected less combined events (%d) than %d", numCombined, numUpdates)

	// Add more events.
	addEvents(100)
	<-combined
}

func TestWatch(t *testing.T) {
	fs = afero.NewOsFs()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))

	w, err := Watch(root)
	require.NoError(t, err)
	defer w.Close()

	// Changes inside .git are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), nil, 0644))
	select {
	case <-w.Changes():
		t.Fatal("unexpected change event")
	case <-time.After(200 * time.Millisecond):
	}

	// New directories are watched too.
	require.NoError(t, os.Mkdir(filepath.Join(root, "nvim"), 0755))
	waitForChange(t, w)
	time.Sleep(100 * time.Millisecond)
	drain(w)

	require.NoError(t, os.WriteFile(filepath.Join(root, "nvim", "init.lua"), nil, 0644))
	waitForChange(t, w)
}

func waitForChange(t *testing.T, w *Watcher) {
	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}
}

func drain(w *Watcher) {
	for {
		select {
		case <-w.Changes():
		default:
			return
		}
	}
}

func countEvents(c chan struct{}) (n int) {
	// Block until the first event.
	<-c
	n++

	// Count the number of events until there hasn't been any new events in 500
	// milliseconds.
	for {
		select {
		case <-c:
			n++
		case <-time.After(500 * time.Millisecond):
			return n
		}
	}
}
