package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/sidkik/dotsync/pkg/errors"
)

// Desktop shows notifications with the platform's notification tool.
type Desktop struct{}

// Alert implements Alerter.
func (Desktop) Alert(title, message string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("notify-send", "--urgency=critical", title, message)
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			strconv.Quote(message), strconv.Quote(title))
		cmd = exec.Command("osascript", "-e", script)
	default:
		return errors.New("desktop notifications are unsupported on %s", runtime.GOOS)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.WithContext(err, fmt.Sprintf("run %s: %s", cmd.Path, out))
	}
	return nil
}
