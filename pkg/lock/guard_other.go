//go:build !unix

package lock

import (
	"sync"
)

var (
	guardsLock sync.Mutex
	guards     = map[string]*sync.Mutex{}
)

// flockGuard falls back to an in-process mutex on platforms without flock.
// Reclamation between processes is then protected by the exclusive create
// alone.
func flockGuard(path string, wait bool) (func(), error) {
	guardsLock.Lock()
	mu, ok := guards[path]
	if !ok {
		mu = &sync.Mutex{}
		guards[path] = mu
	}
	guardsLock.Unlock()

	if wait {
		mu.Lock()
	} else if !mu.TryLock() {
		return nil, errGuardHeld
	}
	return mu.Unlock, nil
}
