package config

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
)

const (
	// DefaultConfigPath is the default path to the dotsync machine config.
	DefaultConfigPath = "~/.dotsync.yaml"

	// InitialConfigVersion is the first version of the dotsync config. Config
	// files that do not specify a version will default to this version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version understood by this binary.
	SupportedConfigVersion = "v1alpha1"

	defaultStateDir = "~/.local/state/dotsync"
)

// The bounds for the pull interval. Polling more often than every two
// minutes hammers the remote, and less often than every five makes the other
// machine's changes feel lost.
const (
	minPullInterval = 2 * time.Minute
	maxPullInterval = 5 * time.Minute
)

// Config is the machine-local dotsync configuration. It is not synced.
type Config struct {
	Version string `json:"version,omitempty"`

	// Repo is the path to the local clone of the configuration repository.
	Repo     string `json:"repo"`
	Remote   string `json:"remote,omitempty"`
	Branch   string `json:"branch,omitempty"`
	StateDir string `json:"stateDir,omitempty"`

	Auth   Auth   `json:"auth,omitempty"`
	Author Author `json:"author,omitempty"`
	Deploy Deploy `json:"deploy,omitempty"`

	PullInterval Duration `json:"pullInterval,omitempty"`
	PollInterval Duration `json:"pollInterval,omitempty"`
	Debounce     Duration `json:"debounce,omitempty"`

	Lock     LockConfig    `json:"lock,omitempty"`
	Retry    RetryConfig   `json:"retry,omitempty"`
	Timeouts TimeoutConfig `json:"timeouts,omitempty"`
	Notify   NotifyConfig  `json:"notify,omitempty"`

	// MetricsTextfile is where Prometheus metrics are written after every
	// cycle, for the node exporter's textfile collector. Empty disables it.
	MetricsTextfile string `json:"metricsTextfile,omitempty"`

	// Only populated and consumed by dotsync. Never set by user.
	path string
}

// Auth holds the credentials used against the remote. Either an SSH key or a
// username and an environment variable holding a password or token.
type Auth struct {
	SSHKey      string `json:"sshKey,omitempty"`
	SSHUser     string `json:"sshUser,omitempty"`
	Username    string `json:"username,omitempty"`
	PasswordEnv string `json:"passwordEnv,omitempty"`
}

// Author is the identity used for commits made by the push watcher.
type Author struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Deploy configures the deployment tool run after new commits are integrated.
type Deploy struct {
	Command []string `json:"command,omitempty"`

	// Exclude lists glob patterns of changed paths that don't require a
	// deployment.
	Exclude []string `json:"exclude,omitempty"`
}

type LockConfig struct {
	StaleAfter Duration `json:"staleAfter,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int      `json:"maxAttempts,omitempty"`
	BaseDelay   Duration `json:"baseDelay,omitempty"`
}

type TimeoutConfig struct {
	Read Duration `json:"read,omitempty"`
	Push Duration `json:"push,omitempty"`
}

type NotifyConfig struct {
	Threshold int `json:"threshold,omitempty"`

	// Desktop toggles desktop notifications. Defaults to true.
	Desktop *bool `json:"desktop,omitempty"`
}

// Duration is a time.Duration that's written as a Go duration string in the
// config file.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.WithContext(err, "duration must be a string")
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (c Config) getVersion() string {
	return c.Version
}

// GetPath returns the filepath that the config was parsed from.
func (c Config) GetPath() string {
	return c.path
}

// DesktopNotifications returns whether desktop notifications are enabled.
func (c Config) DesktopNotifications() bool {
	return c.Notify.Desktop == nil || *c.Notify.Desktop
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// Parse attempts to parse the config stored at `path`. If `path` is empty,
// DefaultConfigPath is used.
func Parse(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	path, err := homedirExpand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{Version: InitialConfigVersion, path: path}
	if err := parseConfig(path, &config, SupportedConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The dotsync config "+
				"file doesn't exist at %q. Create it with at least the `repo` "+
				"field pointing at your configuration repository.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}

	if config.Repo == "" {
		return Config{}, errors.NewFriendlyError(
			"The dotsync config in %q does not have a repo set.\n"+
				"The repo field is required, and must point at a local "+
				"clone of your configuration repository.", path)
	}

	if err := config.expandPaths(); err != nil {
		return Config{}, errors.WithContext(err, "expand paths")
	}
	config.applyDefaults()
	return config, nil
}

// Write writes the given config to `path`.
func Write(path string, cfg Config) error {
	cfg.Version = SupportedConfigVersion
	path, err := homedirExpand(path)
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func (c *Config) expandPaths() (err error) {
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}

	for _, p := range []*string{&c.Repo, &c.StateDir, &c.Auth.SSHKey, &c.MetricsTextfile} {
		if *p == "" {
			continue
		}

		*p, err = homedirExpand(*p)
		if err != nil {
			return err
		}

		// Evaluate relative paths relative to the config path.
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(filepath.Dir(c.path), *p)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.Author.Name == "" {
		c.Author.Name = "dotsync"
	}
	if c.Author.Email == "" {
		c.Author.Email = "dotsync@localhost"
	}

	setDefaultDuration(&c.PullInterval, 3*time.Minute)
	setDefaultDuration(&c.PollInterval, time.Minute)
	setDefaultDuration(&c.Debounce, 2*time.Second)
	setDefaultDuration(&c.Lock.StaleAfter, 10*time.Minute)
	setDefaultDuration(&c.Retry.BaseDelay, 30*time.Second)
	setDefaultDuration(&c.Timeouts.Read, 60*time.Second)
	setDefaultDuration(&c.Timeouts.Push, 120*time.Second)

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Notify.Threshold <= 0 {
		c.Notify.Threshold = 3
	}

	if c.PullInterval.Duration < minPullInterval {
		log.WithField("pullInterval", c.PullInterval.Duration).Warnf(
			"Pull interval is too short. Using %s instead.", minPullInterval)
		c.PullInterval.Duration = minPullInterval
	} else if c.PullInterval.Duration > maxPullInterval {
		log.WithField("pullInterval", c.PullInterval.Duration).Warnf(
			"Pull interval is too long. Using %s instead.", maxPullInterval)
		c.PullInterval.Duration = maxPullInterval
	}
}

func setDefaultDuration(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}
