// Package config provides configuration management for the testwire CLI.
//
// Configuration merges four layers, lowest to highest precedence:
// built-in defaults, testwire.yaml in the workspace root, TESTWIRE_*
// environment variables, and command-line flags.
package config

import (
	"fmt"

	"github.com/testwire-labs/testwire/internal/hierarchy"
)

// AnalyzerConfig describes how to spawn the analysis collaborator, the
// external process that parses test files and resolves selections into
// shell commands.
type AnalyzerConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

// Config holds all CLI configuration options.
type Config struct {
	WorkspaceDir string         `koanf:"workspace_dir"`
	TestDirs     []string       `koanf:"test_dirs"`
	FileSuffixes []string       `koanf:"file_suffixes"`
	ExcludeDirs  []string       `koanf:"exclude_dirs"`
	HelperFiles  []string       `koanf:"helper_files"`
	Analyzer     AnalyzerConfig `koanf:"analyzer"`
	StatePath    string         `koanf:"state_path"`
	Verbose      bool           `koanf:"verbose"`
	OutputFormat string         `koanf:"output"`
	DynamicCap   int            `koanf:"dynamic_cap"`
}

// Default configuration values.
const (
	DefaultStateFile  = ".testwire/state.db"
	DefaultOutput     = "auto" // Auto-detect: TTY=table, non-TTY=json
	DefaultDynamicCap = hierarchy.DefaultDynamicCap
)

// DefaultTestDirs are the workspace-relative directories scanned for
// test files.
func DefaultTestDirs() []string {
	return hierarchy.DefaultScanOptions().Dirs
}

// ScanOptions converts the configured discovery settings into scan
// options, falling back to the defaults for any empty field.
func (c *Config) ScanOptions() hierarchy.ScanOptions {
	opts := hierarchy.DefaultScanOptions()
	if len(c.TestDirs) > 0 {
		opts.Dirs = c.TestDirs
	}
	if len(c.FileSuffixes) > 0 {
		opts.Suffixes = c.FileSuffixes
	}
	if len(c.ExcludeDirs) > 0 {
		opts.ExcludeDirs = c.ExcludeDirs
	}
	if len(c.HelperFiles) > 0 {
		opts.HelperFiles = c.HelperFiles
	}
	return opts
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.WorkspaceDir == "" {
		return fmt.Errorf("workspace_dir is required")
	}
	if c.DynamicCap < 0 {
		return fmt.Errorf("dynamic_cap must not be negative")
	}
	return nil
}

// ValidateAnalyzer checks that an analyzer command is configured. Only
// commands that discover or run tests need one.
func (c *Config) ValidateAnalyzer() error {
	if c.Analyzer.Command == "" {
		return fmt.Errorf("no analyzer configured\nHint: set analyzer.command in testwire.yaml or pass --analyzer")
	}
	return nil
}
