// Package commands implements the testwire subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/testwire-labs/testwire/internal/analysis"
	"github.com/testwire-labs/testwire/internal/cli/config"
	"github.com/testwire-labs/testwire/internal/cli/output"
	"github.com/testwire-labs/testwire/internal/hierarchy"
	"github.com/testwire-labs/testwire/internal/runner"
	"github.com/testwire-labs/testwire/internal/state"
	"github.com/testwire-labs/testwire/pkg/core"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Tree     *hierarchy.Tree
	Store    core.Store
	Analyzer analysis.Client
	Engine   *runner.Engine
}

// NewCommandContext creates a CommandContext with the full engine stack:
// hierarchy, run-history store, and a spawned analysis server. Returns
// the context and a cleanup function that must be called (typically via
// defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	base := NewCommandContextWithoutEngine(cmd)
	cfg := base.Cfg

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateAnalyzer(); err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg, base.Logger)
	if err != nil {
		return nil, nil, err
	}

	analyzer, err := analysis.SpawnCommandClient(cmd.Context(), base.Logger,
		cfg.Analyzer.Command, cfg.Analyzer.Args...)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to start analyzer: %w", err)
	}

	base.Store = store
	base.Analyzer = analyzer
	base.Engine = runner.New(runner.Config{
		Logger:   base.Logger,
		Analyzer: analyzer,
		Tree:     base.Tree,
		Store:    store,
		Scan:     cfg.ScanOptions(),
	})

	cleanup := func() {
		_ = store.Close()
	}
	return base, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext with only the
// hierarchy and renderer. Useful for commands that neither run tests nor
// need the analyzer.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	tree := hierarchy.New(hierarchy.Config{
		Logger:     logger,
		DynamicCap: cfg.DynamicCap,
	})

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
		Tree:     tree,
	}
}

// getConfig returns the current configuration, falling back to defaults
// when no load has happened (help paths, tests).
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cwd, _ := os.Getwd()
	if cwd == "" {
		cwd = "."
	}
	return &config.Config{
		WorkspaceDir: cwd,
		StatePath:    filepath.Join(cwd, config.DefaultStateFile),
		OutputFormat: string(output.ModeAuto),
		DynamicCap:   config.DefaultDynamicCap,
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (core.Store, error) {
	if cfg.StatePath != ":memory:" {
		stateDir := filepath.Dir(cfg.StatePath)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// scanWorkspace registers the configured workspace and scans it for test
// files.
func (c *CommandContext) scanWorkspace(cmd *cobra.Command) (*core.TestNode, []*core.TestNode, error) {
	ws := c.Tree.Workspace(c.Cfg.WorkspaceDir, filepath.Base(c.Cfg.WorkspaceDir))
	files, err := c.Tree.ScanWorkspace(cmd.Context(), ws, c.Cfg.ScanOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan workspace: %w", err)
	}
	return ws, files, nil
}
