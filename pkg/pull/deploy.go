package pull

import (
	"context"
	"os/exec"
	"strings"

	"github.com/sidkik/dotsync/pkg/errors"
)

// Deployer materializes the repository into the live configuration.
type Deployer interface {
	Deploy(ctx context.Context, repo string) error
}

// CommandDeployer runs an external deployment tool, such as `chezmoi apply`,
// in the repository.
type CommandDeployer struct {
	Command []string
}

// Deploy implements Deployer. Failures are returned as errors.DeployError.
func (d CommandDeployer) Deploy(ctx context.Context, repo string) error {
	if len(d.Command) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, d.Command[0], d.Command[1:]...)
	cmd.Dir = repo
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.DeployError{
			Command: strings.Join(d.Command, " "),
			Output:  strings.TrimSpace(string(out)),
			Err:     err,
		}
	}
	return nil
}
