package lock

import (
	"github.com/shirou/gopsutil/v4/process"
	log "github.com/sirupsen/logrus"
)

// processAlive returns whether a process with the given pid is running on
// this machine. If liveness can't be determined, the holder is treated as
// gone so that the lock falls back to age-based reclamation.
func processAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		log.WithError(err).WithField("pid", pid).Debug("Failed to check whether lock holder is running")
		return false
	}
	return exists
}
