package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/sidkik/dotsync/cmd/util"
	"github.com/sidkik/dotsync/pkg/config"
	"github.com/sidkik/dotsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stat                          = os.Stat
	getWorkingDirectory           = os.Getwd
	parseConfig                   = config.Parse
)

type options struct {
	config.Config
	force bool
}

// New creates a new `config` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the dotsync machine config",
		Long: "Write the machine config for a local clone of the configuration " +
			"repository. The clone defaults to the working directory.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := setupConfig(util.ConfigPath, opts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "Path to the local clone")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "Name of the git remote (default origin)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Branch to sync (default main)")
	cmd.Flags().StringVar(&opts.Auth.SSHKey, "ssh-key", "",
		"Private key used for SSH remotes. The SSH agent is used if unset.")
	cmd.Flags().StringSliceVar(&opts.Deploy.Command, "deploy", nil,
		"Command that deploys the repository, run from its root")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing config")

	cmd.AddCommand(&cobra.Command{
		Use:   "get-repo",
		Short: "Get the configured repository path",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := parseConfig(util.ConfigPath)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "read config"))
			}
			fmt.Fprintln(stdout, cfg.Repo)
		},
	})
	return cmd
}

func setupConfig(path string, opts options) error {
	if path == "" {
		path = config.DefaultConfigPath
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}
	if _, err := stat(expanded); err == nil && !opts.force {
		return errors.New("a config already exists at %s, use --force to overwrite it", expanded)
	}

	cfg := opts.Config
	if cfg.Repo == "" {
		wd, err := getWorkingDirectory()
		if err != nil {
			return errors.WithContext(err, "get working directory")
		}
		cfg.Repo = wd
	}

	repo, err := filepath.Abs(cfg.Repo)
	if err != nil {
		return errors.WithContext(err, "resolve repo path")
	}
	if _, err := stat(filepath.Join(repo, ".git")); err != nil {
		return errors.New("%s is not a git clone", repo)
	}
	cfg.Repo = repo

	if err := config.Write(path, cfg); err != nil {
		return errors.WithContext(err, "write config")
	}
	fmt.Fprintf(stdout, "Wrote config to %s\n", expanded)
	return nil
}
