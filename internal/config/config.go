// Package config holds weave configuration, populated from conventions,
// generate.go options, an optional weave.yaml and command-line flags.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Backend names.
const (
	BackendAST        = "ast"
	BackendTypes      = "types"
	BackendTreeSitter = "treesitter"
)

// Config holds weave configuration.
type Config struct {
	Module string `yaml:"-" validate:"required"`
	Root   string `yaml:"-" validate:"required"`

	Backend string `yaml:"backend" validate:"oneof=ast types treesitter"`

	GenerateFactories       bool `yaml:"generateFactories"`
	GenerateFactoriesOnly   bool `yaml:"generateFactoriesOnly"`
	DisableComponentMerging bool `yaml:"disableComponentMerging"`

	// TrackSourceFiles enables the incremental cache at CachePath.
	TrackSourceFiles bool   `yaml:"trackSourceFiles"`
	CachePath        string `yaml:"cachePath" validate:"required_if=TrackSourceFiles true"`

	// Hints lists directories of dependency modules whose weave.hints.yaml
	// contributes facts to this module.
	Hints      []string `yaml:"hints" validate:"dive,required"`
	WriteHints bool     `yaml:"writeHints"`

	MaxRounds       int  `yaml:"maxRounds" validate:"gte=1,lte=1000"`
	DisableDeferral bool `yaml:"disableDeferral"`

	Exclude []string `yaml:"exclude"`
}

// Default returns the configuration used when nothing overrides it.
func Default(root, module string) *Config {
	return &Config{
		Module:     module,
		Root:       root,
		Backend:    BackendAST,
		CachePath:  filepath.Join(root, ".weave", "cache.db"),
		WriteHints: true,
		MaxRounds:  32,
	}
}

// Factories reports whether the factory generator runs.
func (c *Config) Factories() bool {
	return c.GenerateFactories || c.GenerateFactoriesOnly
}

// Merging reports whether merge points are synthesized.
func (c *Config) Merging() bool {
	return !c.DisableComponentMerging && !c.GenerateFactoriesOnly
}

var validate = validator.New()

// Validate checks option values and combinations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
