package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "testwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.WorkspaceDir)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultDynamicCap, cfg.DynamicCap)
	assert.False(t, cfg.Verbose)
}

func TestLoadConfigFromFile(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := writeConfig(t, dir, `
test_dirs:
  - spec
file_suffixes:
  - _spec.rb
analyzer:
  command: ruby
  args: ["analyzer.rb", "--stdio"]
dynamic_cap: 500
`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"spec"}, cfg.TestDirs)
	assert.Equal(t, []string{"_spec.rb"}, cfg.FileSuffixes)
	assert.Equal(t, "ruby", cfg.Analyzer.Command)
	assert.Equal(t, []string{"analyzer.rb", "--stdio"}, cfg.Analyzer.Args)
	assert.Equal(t, 500, cfg.DynamicCap)

	opts := cfg.ScanOptions()
	assert.Equal(t, []string{"spec"}, opts.Dirs)
	assert.Equal(t, []string{"_spec.rb"}, opts.Suffixes)
	// Unset fields keep their defaults.
	assert.NotEmpty(t, opts.ExcludeDirs)
}

func TestEnvVarsOverrideFile(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := writeConfig(t, dir, "verbose: false\n")
	t.Setenv("TESTWIRE_VERBOSE", "true")
	t.Setenv("TESTWIRE_OUTPUT", "json")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Verbose)
	assert.Equal(t, "json", cfg.OutputFormat)
}

func TestFlagsOverrideEverything(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := writeConfig(t, dir, "output: yaml\n")
	t.Setenv("TESTWIRE_OUTPUT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", DefaultOutput, "")
	flags.String("analyzer", "", "")
	require.NoError(t, flags.Parse([]string{"--output", "table", "--analyzer", "bundle"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, "bundle", cfg.Analyzer.Command)
}

func TestWorkspaceRootFoundUpward(t *testing.T) {
	ResetConfig()
	root := t.TempDir()
	writeConfig(t, root, "output: json\n")
	nested := filepath.Join(root, "app", "models")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	got, err := filepath.EvalSymlinks(cfg.WorkspaceDir)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "json", cfg.OutputFormat)
}

func TestValidate(t *testing.T) {
	cfg := &Config{WorkspaceDir: "/ws", DynamicCap: 100}
	require.NoError(t, cfg.Validate())

	cfg.DynamicCap = -1
	require.Error(t, cfg.Validate())

	cfg = &Config{}
	require.Error(t, cfg.Validate())

	cfg = &Config{WorkspaceDir: "/ws"}
	require.Error(t, cfg.ValidateAnalyzer())
	cfg.Analyzer.Command = "ruby"
	require.NoError(t, cfg.ValidateAnalyzer())
}
