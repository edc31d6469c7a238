// Package configuration loads the upload-files core's settings from a
// versioned YAML document, with environment-variable overrides, the same
// way the registry's own configuration package works: a Parser walks the
// parsed struct by reflection and lets UPLOADFILES_FOO_BAR override
// Configuration.Foo.Bar.
package configuration

import (
	"errors"
	"fmt"
	"io"
	"reflect"
)

// Configuration is the top-level settings object for an upload-files
// deployment: where staging and public uploads live on disk, the
// sharding and aux-file-cutoff knobs, the archive version suffix used to
// select between coexisting archive formats, the always-restricted name
// patterns, and ambient logging settings.
type Configuration struct {
	// Version is the version which defines the format of the rest of the configuration.
	Version Version `yaml:"version"`

	// Log configures the logging subsystem.
	Log Log `yaml:"log"`

	// Storage configures the on-disk layout of the staging and public stores.
	Storage Storage `yaml:"storage"`

	// Ingest configures per-entry file grouping.
	Ingest Ingest `yaml:"ingest"`
}

// Storage configures the Path/Directory Object roots used by the Staging
// and Public Stores.
type Storage struct {
	// StagingRoot is the filesystem root under which staging uploads are
	// created, sharded by upload_id[:PrefixSize].
	StagingRoot string `yaml:"stagingroot"`

	// PublicRoot is the filesystem root under which published uploads live.
	PublicRoot string `yaml:"publicroot"`

	// TempRoot is where add-raw-files extracts zip/tar sources before
	// merging them into a staging raw tree.
	TempRoot string `yaml:"temproot"`

	// PrefixSize is the shard prefix length N in spec.md §4.1; 0 disables
	// sharding.
	PrefixSize int `yaml:"prefixsize,omitempty"`

	// ArchiveVersion is the optional <ver> suffix on archive-public/archive-restricted
	// filenames (spec.md §4.4), letting readers select an archive format during
	// a migration. Empty means unsuffixed.
	ArchiveVersion string `yaml:"archiveversion,omitempty"`

	// AlwaysRestricted lists raw-path glob patterns (matched with
	// path.Match against the full raw path) that are restricted
	// regardless of embargo state, e.g. "*/POTCAR".
	AlwaysRestricted []string `yaml:"alwaysrestricted,omitempty"`
}

// Ingest configures per-entry file-group computation.
type Ingest struct {
	// AuxFileCutoff caps the number of sibling files returned by
	// calc-files when with_cutoff is requested (spec.md §4.3).
	AuxFileCutoff int `yaml:"auxfilecutoff,omitempty"`
}

// Log configures the logging subsystem, mirroring the fields the teacher
// registry exposes for its logrus-backed logger.
type Log struct {
	// Level is the granularity at which operations are logged.
	Level Loglevel `yaml:"level,omitempty"`

	// Formatter overrides the default formatter. Options include "text"
	// and "json".
	Formatter string `yaml:"formatter,omitempty"`

	// Fields allows static fields to be attached to every log entry
	// (e.g. {"environment": "staging"}).
	Fields map[string]interface{} `yaml:"fields,omitempty"`
}

// Loglevel is a verbosity level recognized by the logging subsystem.
type Loglevel string

func (loglevel *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch Loglevel(s) {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %s", s)
	}
	*loglevel = Loglevel(s)
	return nil
}

// v0_1Configuration is the 0.1 on-disk schema. Kept distinct from
// Configuration, as in the teacher's versioning scheme, so that a future
// schema revision can convert into the current Configuration without
// breaking already-deployed YAML files.
type v0_1Configuration Configuration

// Parse parses an input configuration yaml document into a Configuration,
// applying UPLOADFILES_* environment-variable overrides and defaults.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("uploadfiles", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(0, 1),
			ParseAs: reflect.TypeOf(v0_1Configuration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				v01, ok := c.(*v0_1Configuration)
				if !ok {
					return nil, fmt.Errorf("expected *v0_1Configuration, received %#v", c)
				}
				if v01.Log.Level == Loglevel("") {
					v01.Log.Level = Loglevel("info")
				}
				if v01.Ingest.AuxFileCutoff <= 0 {
					v01.Ingest.AuxFileCutoff = 200
				}
				if v01.Storage.StagingRoot == "" {
					return nil, errors.New("no storage.stagingroot provided")
				}
				if v01.Storage.PublicRoot == "" {
					return nil, errors.New("no storage.publicroot provided")
				}
				return (*Configuration)(v01), nil
			},
		},
	})

	config := new(Configuration)
	if err := p.Parse(in, config); err != nil {
		return nil, err
	}
	return config, nil
}
