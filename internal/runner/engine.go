// Package runner executes test selections: it resolves them into shell
// commands through the analysis collaborator, spawns the commands with a
// loopback event socket injected into the environment, and folds the
// streamed results back into the hierarchy and the active run.
package runner

import (
	"io"
	"log/slog"
	"sync"

	"github.com/testwire-labs/testwire/internal/analysis"
	"github.com/testwire-labs/testwire/internal/hierarchy"
	"github.com/testwire-labs/testwire/pkg/core"
)

// Config carries the engine's collaborators. Analyzer and Tree are
// required; the rest are optional and gate the corresponding run modes.
type Config struct {
	Logger      *slog.Logger
	Analyzer    analysis.Client
	Tree        *hierarchy.Tree
	Store       core.Store
	Debugger    Debugger
	NewTerminal TerminalFactory
	Scan        hierarchy.ScanOptions
}

// Engine coordinates runs. Safe for concurrent use, though runs against
// the same tree are typically serialized by the caller.
type Engine struct {
	logger      *slog.Logger
	analyzer    analysis.Client
	tree        *hierarchy.Tree
	store       core.Store
	debugger    Debugger
	newTerminal TerminalFactory
	scan        hierarchy.ScanOptions
	observers   ObserverSet

	termMu    sync.Mutex
	terminals map[string]Terminal
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	scan := cfg.Scan
	if len(scan.Dirs) == 0 {
		scan = hierarchy.DefaultScanOptions()
	}
	return &Engine{
		logger:      logger,
		analyzer:    cfg.Analyzer,
		tree:        cfg.Tree,
		store:       cfg.Store,
		debugger:    cfg.Debugger,
		newTerminal: cfg.NewTerminal,
		scan:        scan,
		terminals:   make(map[string]Terminal),
	}
}

// Observers returns the engine's observer set for registration.
func (e *Engine) Observers() *ObserverSet {
	return &e.observers
}
