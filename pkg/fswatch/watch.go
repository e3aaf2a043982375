// Package fswatch signals when files in a working tree change.
package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
)

var fs = afero.NewOsFs()

// Watcher watches every directory of a working tree.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	changes chan struct{}
}

// Watch watches the tree rooted at `root`. It sends an event on the returned
// Watcher's channel whenever a file in the tree changes. Changes inside
// `.git` are ignored, since they're caused by syncing itself.
func Watch(root string) (*Watcher, error) {
	dirs, err := getDirsToWatch(root)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	w := &Watcher{root: root, watcher: watcher}
	w.changes = combineUpdates(w.filter(watcher.Events))
	go w.logErrors()
	return w, nil
}

// Changes returns a channel that receives a value after files changed.
// Bursts of changes are coalesced.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// filter drops events within `.git`, and starts watching directories created
// after Watch was called.
func (w *Watcher) filter(events <-chan fsnotify.Event) <-chan fsnotify.Event {
	filtered := make(chan fsnotify.Event, 16)
	go func() {
		defer close(filtered)
		for event := range events {
			if isGitPath(w.root, event.Name) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				w.addNewDirs(event.Name)
			}
			filtered <- event
		}
	}()
	return filtered
}

func (w *Watcher) addNewDirs(path string) {
	fi, err := fs.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}

	dirs, err := getDirsToWatch(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Debug("Failed to list new directory")
		return
	}

	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			log.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
		}
	}
}

func (w *Watcher) logErrors() {
	for err := range w.watcher.Errors {
		log.WithError(err).Warn("File watcher error")
	}
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// getDirsToWatch returns `root` and all directories below it, except `.git`.
// fsnotify doesn't watch directories recursively, and watching a directory
// reports changes to the files directly inside it.
func getDirsToWatch(root string) (dirs []string, err error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, errors.New("%q is not a directory", root)
	}

	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if !fi.IsDir() {
			return nil
		}

		if fi.Name() == ".git" {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func isGitPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return strings.SplitN(filepath.ToSlash(rel), "/", 2)[0] == ".git"
}
