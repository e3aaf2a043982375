// Package lock grants exclusive execution of one sync cycle at a time per
// lock namespace on a machine.
//
// A lock is a plain file created with O_EXCL. Its existence is authoritative;
// its content only records who holds it and since when, which is used to
// reclaim locks abandoned by crashed processes and to make sure a process
// never releases a lock that was already reclaimed from under it.
//
// Reclaiming a stale lock and releasing a held one both happen under a short
// OS advisory lock on a separate guard file. The record is re-read under the
// guard and only deleted if it's byte-for-byte the record that was judged, so
// a stale lock is reclaimed by exactly one acquirer.
package lock

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
)

var (
	// ErrLockBusy is returned when another live process holds the lock. It
	// is expected contention: callers skip the cycle rather than wait.
	ErrLockBusy = errors.New("lock busy")

	// ErrLockLost is returned by Release and Refresh when the lock file no
	// longer belongs to the handle, because it was reclaimed as stale.
	ErrLockLost = errors.New("lock no longer held")
)

// Namespaces used by the watchers. Push and pull never block each other.
const (
	Push = "push"
	Pull = "pull"
)

// Record is the content of a lock file.
type Record struct {
	PID   int    `json:"pid"`
	Token string `json:"token"`

	Hostname    string    `json:"hostname,omitempty"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	RefreshedAt time.Time `json:"refreshedAt,omitempty"`
}

// lastSeen is the last time the holder proved it was making progress.
func (r Record) lastSeen() time.Time {
	if r.RefreshedAt.After(r.AcquiredAt) {
		return r.RefreshedAt
	}
	return r.AcquiredAt
}

// Handle is proof of holding a lock.
type Handle struct {
	Name   string
	Path   string
	Record Record
}

// Status describes the current state of a lock file.
type Status struct {
	Name string
	Held bool

	// Record is the zero value if the lock file couldn't be parsed.
	Record      Record
	Age         time.Duration
	HolderAlive bool
	Stale       bool
}

// guardFunc takes the advisory guard for `path`. If `wait` is false and the
// guard is taken, it returns errGuardHeld.
type guardFunc func(path string, wait bool) (unlock func(), err error)

var errGuardHeld = errors.New("guard held")

// Manager acquires and releases locks stored in a directory.
type Manager struct {
	dir        string
	staleAfter time.Duration

	fs       afero.Fs
	clock    clockwork.Clock
	isAlive  func(pid int) bool
	guard    guardFunc
	pid      int
	hostname string

	log logrus.FieldLogger
}

// NewManager creates a Manager that keeps its lock files in `dir`. Locks
// whose holder stopped making progress more than `staleAfter` ago, and whose
// holder process is gone, are reclaimed.
func NewManager(log logrus.FieldLogger, dir string, staleAfter time.Duration) *Manager {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Debug("Failed to get hostname")
	}

	return &Manager{
		dir:        dir,
		staleAfter: staleAfter,
		fs:         afero.NewOsFs(),
		clock:      clockwork.NewRealClock(),
		isAlive:    processAlive,
		guard:      flockGuard,
		pid:        os.Getpid(),
		hostname:   hostname,
		log:        log,
	}
}

// Path returns the path of the lock file for `name`.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

func (m *Manager) guardPath(name string) string {
	return m.Path(name) + ".guard"
}

// Acquire takes the lock `name`. It never blocks: if the lock is held by a
// live process it returns ErrLockBusy.
func (m *Manager) Acquire(name string) (*Handle, error) {
	if err := m.fs.MkdirAll(m.dir, 0755); err != nil {
		return nil, errors.WithContext(err, "create lock dir")
	}

	h, err := m.create(name)
	if err == nil {
		return h, nil
	} else if !os.IsExist(err) {
		return nil, errors.WithContext(err, "create lock file")
	}

	status, judged, err := m.inspect(name)
	if err != nil {
		return nil, errors.WithContext(err, "inspect")
	}

	if status.Held && !status.Stale {
		return nil, ErrLockBusy
	}

	if status.Held {
		m.log.WithFields(logrus.Fields{
			"lock":      name,
			"holderPid": status.Record.PID,
			"age":       status.Age.Round(time.Second),
		}).Warn("Reclaiming stale lock")

		ok, err := m.reclaim(name, judged)
		if err != nil {
			return nil, errors.WithContext(err, "reclaim")
		}
		if !ok {
			return nil, ErrLockBusy
		}
	}

	// Retry exactly once. Losing this race means another process reclaimed
	// the lock first.
	h, err = m.create(name)
	if os.IsExist(err) {
		return nil, ErrLockBusy
	} else if err != nil {
		return nil, errors.WithContext(err, "create lock file")
	}
	return h, nil
}

// Release removes the lock file if it still belongs to `h`.
func (m *Manager) Release(h *Handle) error {
	unlock, err := m.guard(m.guardPath(h.Name), true)
	if err != nil {
		return errors.WithContext(err, "take guard")
	}
	defer unlock()

	if err := m.checkOwner(h); err != nil {
		return err
	}

	if err := m.fs.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove lock file")
	}
	return nil
}

// Refresh records that the holder of `h` is still making progress, so that
// long cycles aren't mistaken for crashed ones.
func (m *Manager) Refresh(h *Handle) error {
	unlock, err := m.guard(m.guardPath(h.Name), true)
	if err != nil {
		return errors.WithContext(err, "take guard")
	}
	defer unlock()

	if err := m.checkOwner(h); err != nil {
		return err
	}

	rec := h.Record
	rec.RefreshedAt = m.clock.Now().UTC()
	if err := m.writeRecord(h.Path, rec); err != nil {
		return errors.WithContext(err, "write lock file")
	}
	h.Record = rec
	return nil
}

// WithLock runs `fn` while holding the lock `name`. The lock is released on
// every return path, including when `fn` fails or panics. If the lock is busy
// `fn` isn't run and ErrLockBusy is returned.
func (m *Manager) WithLock(name string, fn func(*Handle) error) error {
	h, err := m.Acquire(name)
	if err != nil {
		return err
	}

	defer func() {
		if err := m.Release(h); err != nil {
			m.log.WithError(err).WithField("lock", name).Warn("Failed to release lock")
		}
	}()
	return fn(h)
}

// Inspect reports the current state of the lock `name`.
func (m *Manager) Inspect(name string) (Status, error) {
	status, _, err := m.inspect(name)
	return status, err
}

// ForceRelease removes the lock `name` regardless of who holds it. It's meant
// for humans recovering from a wedged machine.
func (m *Manager) ForceRelease(name string) error {
	unlock, err := m.guard(m.guardPath(name), true)
	if err != nil {
		return errors.WithContext(err, "take guard")
	}
	defer unlock()

	if err := m.fs.Remove(m.Path(name)); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove lock file")
	}
	return nil
}

func (m *Manager) create(name string) (*Handle, error) {
	path := m.Path(name)
	f, err := m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	rec := Record{
		PID:        m.pid,
		Token:      uuid.New().String(),
		Hostname:   m.hostname,
		AcquiredAt: now,
	}

	recordBytes, err := yaml.Marshal(rec)
	if err == nil {
		_, err = f.Write(recordBytes)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// We own the file, so it's safe to remove it without the guard.
		if removeErr := m.fs.Remove(path); removeErr != nil {
			m.log.WithError(removeErr).WithField("lock", name).Warn(
				"Failed to clean up partially written lock file")
		}
		return nil, errors.WithContext(err, "write record")
	}

	return &Handle{Name: name, Path: path, Record: rec}, nil
}

// inspect reads the lock file and judges whether it's stale. It also returns
// the raw bytes that were judged so that reclaim can make sure nothing changed.
func (m *Manager) inspect(name string) (Status, []byte, error) {
	status := Status{Name: name}
	path := m.Path(name)

	fi, err := m.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return status, nil, nil
		}
		return Status{}, nil, errors.WithContext(err, "stat")
	}

	raw, err := afero.ReadFile(m.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return status, nil, nil
		}
		return Status{}, nil, errors.WithContext(err, "read")
	}
	status.Held = true

	// A record that can't be parsed was most likely caught between creation
	// and the first write. Judge it by the file's modification time instead.
	lastSeen := fi.ModTime()
	var rec Record
	if err := yaml.Unmarshal(raw, &rec); err == nil && !rec.AcquiredAt.IsZero() {
		status.Record = rec
		lastSeen = rec.lastSeen()
	}

	status.Age = m.clock.Now().Sub(lastSeen)
	status.HolderAlive = m.holderAlive(status.Record)
	status.Stale = status.Age > m.staleAfter && !status.HolderAlive
	return status, raw, nil
}

func (m *Manager) holderAlive(rec Record) bool {
	// We can only probe processes on this machine. Locks written by another
	// host are judged on age alone.
	if rec.PID <= 0 || (rec.Hostname != "" && rec.Hostname != m.hostname) {
		return false
	}
	return m.isAlive(rec.PID)
}

func (m *Manager) reclaim(name string, judged []byte) (bool, error) {
	unlock, err := m.guard(m.guardPath(name), false)
	if err == errGuardHeld {
		return false, nil
	} else if err != nil {
		return false, errors.WithContext(err, "take guard")
	}
	defer unlock()

	current, err := afero.ReadFile(m.fs, m.Path(name))
	if os.IsNotExist(err) {
		// Someone else removed it. The exclusive create decides who gets it.
		return true, nil
	} else if err != nil {
		return false, errors.WithContext(err, "read")
	}

	if !bytes.Equal(current, judged) {
		return false, nil
	}

	if err := m.fs.Remove(m.Path(name)); err != nil && !os.IsNotExist(err) {
		return false, errors.WithContext(err, "remove stale lock")
	}
	return true, nil
}

// checkOwner must be called with the guard held.
func (m *Manager) checkOwner(h *Handle) error {
	raw, err := afero.ReadFile(m.fs, h.Path)
	if os.IsNotExist(err) {
		return ErrLockLost
	} else if err != nil {
		return errors.WithContext(err, "read")
	}

	var rec Record
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return ErrLockLost
	}

	if rec.PID != h.Record.PID || rec.Token != h.Record.Token {
		return ErrLockLost
	}
	return nil
}

func (m *Manager) writeRecord(path string, rec Record) error {
	recordBytes, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	return afero.WriteFile(m.fs, path, recordBytes, 0644)
}

func (s Status) String() string {
	if !s.Held {
		return fmt.Sprintf("%s: free", s.Name)
	}

	state := "held"
	if s.Stale {
		state = "stale"
	}
	return fmt.Sprintf("%s: %s by pid %d for %s", s.Name, state, s.Record.PID,
		s.Age.Round(time.Second))
}
