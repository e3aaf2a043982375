package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/dotsync/pkg/errors"
)

func mockHomedir() {
	homedirExpand = func(path string) (string, error) {
		return strings.Replace(path, "~", "/home/user", 1), nil
	}
}

func TestParseDefaults(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()
	assert.NoError(t, afero.WriteFile(fs, "/home/user/.dotsync.yaml",
		[]byte("repo: ~/dotfiles\n"), 0644))

	cfg, err := Parse("")
	require.NoError(t, err)

	assert.Equal(t, InitialConfigVersion, cfg.Version)
	assert.Equal(t, "/home/user/.dotsync.yaml", cfg.GetPath())
	assert.Equal(t, "/home/user/dotfiles", cfg.Repo)
	assert.Equal(t, "/home/user/.local/state/dotsync", cfg.StateDir)
	assert.Equal(t, "origin", cfg.Remote)
	assert.Equal(t, "main", cfg.Branch)
	assert.Equal(t, 3*time.Minute, cfg.PullInterval.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Lock.StaleAfter.Duration)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Retry.BaseDelay.Duration)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Read.Duration)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Push.Duration)
	assert.Equal(t, 3, cfg.Notify.Threshold)
	assert.True(t, cfg.DesktopNotifications())
}

func TestParse(t *testing.T) {
	path := "/etc/dotsync.yaml"
	tests := []struct {
		name      string
		input     string
		check     func(*testing.T, Config)
		expError  error
		expErrMsg string
	}{
		{
			name: "Overrides",
			input: `
version: v1alpha1
repo: dotfiles
branch: trunk
pullInterval: 4m
retry:
  maxAttempts: 2
  baseDelay: 1s
notify:
  threshold: 5
  desktop: false
deploy:
  command: ["chezmoi", "apply"]
`,
			check: func(t *testing.T, cfg Config) {
				// Relative paths are relative to the config file.
				assert.Equal(t, "/etc/dotfiles", cfg.Repo)
				assert.Equal(t, "trunk", cfg.Branch)
				assert.Equal(t, 4*time.Minute, cfg.PullInterval.Duration)
				assert.Equal(t, 2, cfg.Retry.MaxAttempts)
				assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Duration)
				assert.Equal(t, 5, cfg.Notify.Threshold)
				assert.False(t, cfg.DesktopNotifications())
				assert.Equal(t, []string{"chezmoi", "apply"}, cfg.Deploy.Command)
			},
		},
		{
			name:  "Pull interval too short",
			input: "repo: /r\npullInterval: 30s\n",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 2*time.Minute, cfg.PullInterval.Duration)
			},
		},
		{
			name:  "Pull interval too long",
			input: "repo: /r\npullInterval: 1h\n",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 5*time.Minute, cfg.PullInterval.Duration)
			},
		},
		{
			name:  "Incorrect version",
			input: "version: v2\nrepo: /r\n",
			expError: errors.WithContext(incompatibleVersionError{
				path:   path,
				exp:    SupportedConfigVersion,
				actual: "v2",
			}, "parse"),
		},
		{
			name:      "Extra fields",
			input:     "repo: /r\nextra: fields\n",
			expErrMsg: `unknown field "extra"`,
		},
		{
			name:      "Bad duration",
			input:     "repo: /r\ndebounce: soon\n",
			expErrMsg: "Configuration file could not be parsed",
		},
		{
			name:      "Missing repo",
			input:     "branch: main\n",
			expErrMsg: "does not have a repo set",
		},
	}

	mockHomedir()
	for _, test := range tests {
		fs = afero.NewMemMapFs()
		assert.NoError(t, afero.WriteFile(fs, path, []byte(test.input), 0644))

		cfg, err := Parse(path)
		switch {
		case test.expError != nil:
			assert.Equal(t, test.expError, err, test.name)
		case test.expErrMsg != "":
			if assert.Error(t, err, test.name) {
				assert.Contains(t, err.Error(), test.expErrMsg, test.name)
			}
		default:
			assert.NoError(t, err, test.name)
			test.check(t, cfg)
		}
	}
}

func TestParseMissingFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	_, err := Parse("~/missing.yaml")
	assert.Equal(t, errors.NewFriendlyError("The dotsync config "+
		"file doesn't exist at %q. Create it with at least the `repo` "+
		"field pointing at your configuration repository.",
		"/home/user/missing.yaml"), err)
}

func TestParseWrittenConfig(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	cfg := Config{
		Repo:   "/home/user/dotfiles",
		Branch: "main",
		Retry:  RetryConfig{MaxAttempts: 4},
	}
	assert.NoError(t, Write("~/.dotsync.yaml", cfg))

	parsed, err := Parse("~/.dotsync.yaml")
	assert.NoError(t, err)
	assert.Equal(t, SupportedConfigVersion, parsed.Version)
	assert.Equal(t, cfg.Repo, parsed.Repo)
	assert.Equal(t, 4, parsed.Retry.MaxAttempts)
}
