package service

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/dotsync/pkg/errors"
)

const repo = "/repo"

func writeRepoFile(t *testing.T, path, contents string) {
	require.NoError(t, afero.WriteFile(fs, repo+"/"+path, []byte(contents), 0644))
}

func TestParse(t *testing.T) {
	fs = afero.NewMemMapFs()

	tests := []struct {
		name      string
		contents  string
		exp       Descriptor
		expErrMsg string
	}{
		{
			name: "valid",
			contents: `name: backup
platform: systemd
enabled: true
definition: backup.service`,
			exp: Descriptor{
				Name:       "backup",
				Platform:   Systemd,
				Enabled:    true,
				Definition: "backup.service",
				Path:       "services/desc.service.yaml",
			},
		},
		{
			name: "enabled defaults to false",
			contents: `name: backup
platform: launchd
definition: ../launchd/com.example.backup.plist`,
			exp: Descriptor{
				Name:       "backup",
				Platform:   Launchd,
				Definition: "../launchd/com.example.backup.plist",
				Path:       "services/desc.service.yaml",
			},
		},
		{
			name:      "missing name",
			contents:  "platform: systemd\ndefinition: x.service",
			expErrMsg: "services/desc.service.yaml: " + errors.MissingFieldError{Field: "name"}.Error(),
		},
		{
			name:      "unknown platform",
			contents:  "name: x\nplatform: upstart\ndefinition: x.conf",
			expErrMsg: `services/desc.service.yaml: unknown platform "upstart"`,
		},
		{
			name:      "definition outside the repository",
			contents:  "name: x\nplatform: systemd\ndefinition: ../../etc/x.service",
			expErrMsg: `services/desc.service.yaml: definition "../../etc/x.service" must be inside the repository`,
		},
	}

	for _, test := range tests {
		writeRepoFile(t, "services/desc.service.yaml", test.contents)
		d, err := Parse(repo, "services/desc.service.yaml")
		if test.expErrMsg != "" {
			assert.EqualError(t, err, test.expErrMsg, test.name)
			continue
		}
		assert.NoError(t, err, test.name)
		assert.Equal(t, test.exp, d, test.name)
	}
}

func TestParseUnknownField(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeRepoFile(t, "x.service.yaml", "name: x\nplatform: systemd\ndefinition: x.service\nenable: true")
	_, err := Parse(repo, "x.service.yaml")
	assert.Error(t, err)
}

func TestDefinitionPath(t *testing.T) {
	assert.Equal(t, "services/backup.service",
		Descriptor{Path: "services/backup.service.yaml", Definition: "backup.service"}.DefinitionPath())
	assert.Equal(t, "launchd/backup.plist",
		Descriptor{Path: "services/backup.service.yaml", Definition: "../launchd/backup.plist"}.DefinitionPath())
	assert.Equal(t, "backup.service",
		Descriptor{Path: "backup.service.yaml", Definition: "./backup.service"}.DefinitionPath())
}

func TestDiscover(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeRepoFile(t, "services/b.service.yaml", "name: b\nplatform: systemd\ndefinition: b.service")
	writeRepoFile(t, "a.service.yaml", "name: a\nplatform: launchd\ndefinition: a.plist")
	writeRepoFile(t, "broken.service.yaml", "name: [")
	writeRepoFile(t, "services/b.service", "[Service]")
	writeRepoFile(t, ".git/c.service.yaml", "name: c\nplatform: systemd\ndefinition: c.service")

	descriptors, invalid, err := Discover(repo)
	assert.NoError(t, err)

	var names []string
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Len(t, invalid, 1)
	assert.Contains(t, invalid, "broken.service.yaml")
}
