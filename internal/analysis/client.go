// Package analysis defines the contract with the language-analysis
// collaborator: static per-file test discovery and resolution of a
// selection into concrete shell commands. The engine never parses source
// code itself.
package analysis

import (
	"context"

	"github.com/testwire-labs/testwire/internal/selection"
	"github.com/testwire-labs/testwire/pkg/core"
)

// ResolveResult is the collaborator's answer to a resolve request: one
// command per distinguishable runnable group plus the reporter files to
// inject into the spawned process.
type ResolveResult struct {
	Commands      []core.ResolvedCommand `json:"commands" mapstructure:"commands"`
	ReporterPaths []string               `json:"reporterPaths,omitempty" mapstructure:"reporterPaths"`
}

// Client is the analysis collaborator seen from the engine.
type Client interface {
	// Discover parses one file into a nested list of test declarations.
	Discover(ctx context.Context, fileURI string) ([]core.DiscoveredItem, error)
	// ResolveCommands turns a serialized selection into runnable commands.
	ResolveCommands(ctx context.Context, sel []selection.Item) (*ResolveResult, error)
}
