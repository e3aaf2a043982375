package pull

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
)

// StateFile records the last commit that was deployed.
const StateFile = "pull.state"

type integratedStore struct {
	fs   afero.Fs
	path string
}

func newIntegratedStore(fs afero.Fs, stateDir string) integratedStore {
	return integratedStore{fs: fs, path: filepath.Join(stateDir, StateFile)}
}

// Load returns the last integrated commit, or "" if nothing was integrated yet.
func (s integratedStore) Load() (string, error) {
	hashBytes, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.WithContext(err, "read")
	}
	return strings.TrimSpace(string(hashBytes)), nil
}

func (s integratedStore) Save(hash string) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.WithContext(err, "create state dir")
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(hash+"\n"), 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return s.fs.Rename(tmp, s.path)
}
