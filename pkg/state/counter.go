// Package state persists the push failure counter. The counter is shared by
// every process on the machine, so it's read from disk on every use rather
// than cached.
package state

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
)

// FailureCounter tracks consecutive failed push cycles.
type FailureCounter struct {
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailureReason   string    `json:"lastFailureReason,omitempty"`
	LastFailureKind     string    `json:"lastFailureKind,omitempty"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitempty"`
	LastSuccessAt       time.Time `json:"lastSuccessAt,omitempty"`
}

// CounterStore reads and writes the FailureCounter file.
type CounterStore struct {
	fs   afero.Fs
	path string
}

// NewCounterStore creates a store for the counter file in `stateDir`.
func NewCounterStore(fs afero.Fs, stateDir string) CounterStore {
	return CounterStore{fs: fs, path: filepath.Join(stateDir, "failures.yaml")}
}

// Path returns the location of the counter file.
func (s CounterStore) Path() string {
	return s.path
}

// Load returns the persisted counter. A missing file is a zero counter.
func (s CounterStore) Load() (FailureCounter, error) {
	counterBytes, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return FailureCounter{}, nil
		}
		return FailureCounter{}, errors.WithContext(err, "read")
	}

	var counter FailureCounter
	if err := yaml.Unmarshal(counterBytes, &counter); err != nil {
		return FailureCounter{}, errors.WithContext(err, "parse")
	}
	return counter, nil
}

// RecordFailure increments the counter and persists it.
func (s CounterStore) RecordFailure(kind errors.Kind, reason string, at time.Time) (FailureCounter, error) {
	counter, err := s.Load()
	if err != nil {
		return FailureCounter{}, errors.WithContext(err, "load")
	}

	counter.ConsecutiveFailures++
	counter.LastFailureKind = kind.String()
	counter.LastFailureReason = reason
	counter.LastFailureAt = at.UTC()
	return counter, s.save(counter)
}

// RecordSuccess resets the counter and persists it.
func (s CounterStore) RecordSuccess(at time.Time) (FailureCounter, error) {
	counter, err := s.Load()
	if err != nil {
		return FailureCounter{}, errors.WithContext(err, "load")
	}

	counter.ConsecutiveFailures = 0
	counter.LastFailureKind = ""
	counter.LastFailureReason = ""
	counter.LastSuccessAt = at.UTC()
	return counter, s.save(counter)
}

// save writes the counter to a temporary file and renames it into place, so
// that readers never see a partially written counter.
func (s CounterStore) save(counter FailureCounter) error {
	counterBytes, err := yaml.Marshal(counter)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.WithContext(err, "create state dir")
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, counterBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return errors.WithContext(err, "rename")
	}
	return nil
}
