// Package schema defines the Go struct types for the console YAML
// configuration (app catalogue, gates, pipelines) and provides strict
// YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level console configuration document.
type Config struct {
	APIVersion string        `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,enum=console/v1"`
	Meta       Meta          `yaml:"meta"       json:"meta"       jsonschema:"required"`
	Apps       []App         `yaml:"apps,omitempty"      json:"apps,omitempty"`
	Profiles   []Profile     `yaml:"profiles,omitempty"  json:"profiles,omitempty"`
	Gates      []GateDef     `yaml:"gates,omitempty"     json:"gates,omitempty"`
	Pipelines  []PipelineDef `yaml:"pipelines,omitempty" json:"pipelines,omitempty"`
	Defaults   *Defaults     `yaml:"defaults,omitempty"  json:"defaults,omitempty"`
}

// Meta contains console metadata.
type Meta struct {
	Name        string `yaml:"name"                  json:"name" jsonschema:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// App is one entry in the app catalogue. Packages lists the OS packages
// installed (or removed) when the app is selected.
type App struct {
	ID       string   `yaml:"id"              json:"id"       jsonschema:"required"`
	Title    string   `yaml:"title,omitempty" json:"title,omitempty"`
	Packages []string `yaml:"packages"        json:"packages" jsonschema:"required,minItems=1"`
	Tags     []string `yaml:"tags,omitempty"  json:"tags,omitempty"`
}

// Profile names a reusable set of app IDs the operator can select at once.
type Profile struct {
	Name string   `yaml:"name" json:"name" jsonschema:"required"`
	Apps []string `yaml:"apps" json:"apps" jsonschema:"required,minItems=1"`
}

// GateDef is a named precondition gate: a set of checks that must all pass
// before a mutating command may run. When is an optional expr condition over
// the run facts; a gate whose condition is false is skipped.
type GateDef struct {
	Name         string     `yaml:"name"                    json:"name"   jsonschema:"required"`
	When         string     `yaml:"when,omitempty"          json:"when,omitempty"`
	Checks       []CheckDef `yaml:"checks"                  json:"checks" jsonschema:"required,minItems=1"`
	Remediation  string     `yaml:"remediation,omitempty"   json:"remediation,omitempty"`
	FailureClass string     `yaml:"failure_class,omitempty" json:"failure_class,omitempty" jsonschema:"enum=recoverable,enum=fatal"`
}

// CheckDef is a single check inside a gate. Kind selects the probe; the
// remaining fields are interpreted per kind.
type CheckDef struct {
	Kind    string   `yaml:"kind"              json:"kind" jsonschema:"required,enum=credential-file-present,enum=required-keys-present-in-env-file,enum=directory-exists-and-writable,enum=command-on-path,enum=file-nonempty,enum=structured-file-contains-key"`
	Path    string   `yaml:"path,omitempty"    json:"path,omitempty"`
	Keys    []string `yaml:"keys,omitempty"    json:"keys,omitempty"`
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Key     string   `yaml:"key,omitempty"     json:"key,omitempty"`
}

// PipelineDef is the canonical ordered step list for one command family.
type PipelineDef struct {
	Name  string   `yaml:"name"  json:"name"  jsonschema:"required"`
	Steps []string `yaml:"steps" json:"steps" jsonschema:"required,minItems=1"`
}

// Defaults specifies console-wide execution settings.
type Defaults struct {
	LockTimeout string `yaml:"lock_timeout,omitempty" json:"lock_timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m)$"`
}

// AppByID returns the catalogue entry for the given app ID.
func (c *Config) AppByID(id string) (*App, bool) {
	for i := range c.Apps {
		if c.Apps[i].ID == id {
			return &c.Apps[i], true
		}
	}
	return nil, false
}

// ProfileByName returns the named profile.
func (c *Config) ProfileByName(name string) (*Profile, bool) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}

// GateByName returns the named gate definition.
func (c *Config) GateByName(name string) (*GateDef, bool) {
	for i := range c.Gates {
		if c.Gates[i].Name == name {
			return &c.Gates[i], true
		}
	}
	return nil, false
}

// LoadFile reads and parses a console config YAML file with strict
// unknown-field rejection (yaml.v3 KnownFields). Returns the parsed Config
// or an error.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a console config from an io.Reader with strict unknown-field
// rejection.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
