// Package service activates the user services described in the configuration
// repository.
//
// A service is described by a `*.service.yaml` file:
//
//	name: backup
//	platform: systemd
//	enabled: true
//	definition: backup.service
//
// `definition` is the unit file or launchd plist, relative to the descriptor.
// A service is only ever started or restarted by dotsync if its descriptor
// has `enabled: true`. Services are never stopped or disabled.
package service

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/dotsync/pkg/errors"
)

var fs = afero.NewOsFs()

// DescriptorSuffix identifies service descriptor files.
const DescriptorSuffix = ".service.yaml"

// Platform is a service manager.
type Platform string

const (
	Systemd Platform = "systemd"
	Launchd Platform = "launchd"
)

// Descriptor describes a service tracked in the repository.
type Descriptor struct {
	Name       string   `json:"name"`
	Platform   Platform `json:"platform"`
	Enabled    bool     `json:"enabled"`
	Definition string   `json:"definition"`

	// Path is the descriptor's path relative to the repository root, with
	// forward slashes.
	Path string `json:"-"`
}

// DefinitionPath returns the path of the definition relative to the
// repository root.
func (d Descriptor) DefinitionPath() string {
	return path.Join(path.Dir(d.Path), d.Definition)
}

// IsDescriptor returns whether the repository path `p` is a service descriptor.
func IsDescriptor(p string) bool {
	return strings.HasSuffix(p, DescriptorSuffix)
}

// Parse reads the descriptor at `relPath` within `root`.
func Parse(root, relPath string) (Descriptor, error) {
	descBytes, err := afero.ReadFile(fs, filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, errors.FileNotFound{Path: relPath}
		}
		return Descriptor{}, errors.WithContext(err, "read")
	}

	var d Descriptor
	if err := yaml.Unmarshal(descBytes, &d, yaml.DisallowUnknownFields); err != nil {
		return Descriptor{}, errors.WithContext(err, fmt.Sprintf("parse %s", relPath))
	}
	d.Path = relPath

	if err := d.validate(); err != nil {
		return Descriptor{}, errors.WithContext(err, relPath)
	}
	return d, nil
}

func (d Descriptor) validate() error {
	switch {
	case d.Name == "":
		return errors.MissingFieldError{Field: "name"}
	case d.Definition == "":
		return errors.MissingFieldError{Field: "definition"}
	case d.Platform != Systemd && d.Platform != Launchd:
		return errors.New("unknown platform %q", d.Platform)
	case path.IsAbs(d.Definition) || strings.HasPrefix(d.DefinitionPath(), ".."):
		return errors.New("definition %q must be inside the repository", d.Definition)
	}
	return nil
}

// Discover parses every descriptor in the repository at `root`. Invalid
// descriptors are returned in `invalid` rather than failing the discovery,
// so one typo doesn't block the other services.
func Discover(root string) (descriptors []Descriptor, invalid map[string]error, err error) {
	invalid = map[string]error{}
	err = afero.Walk(fs, root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			if fi.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		if !IsDescriptor(p) {
			return nil
		}

		relPath, err := filepath.Rel(root, p)
		if err != nil {
			return errors.WithContext(err, "relative path")
		}
		relPath = filepath.ToSlash(relPath)

		d, err := Parse(root, relPath)
		if err != nil {
			invalid[relPath] = err
			return nil
		}
		descriptors = append(descriptors, d)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Path < descriptors[j].Path
	})
	return descriptors, invalid, nil
}
