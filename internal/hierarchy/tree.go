// Package hierarchy maintains the test item tree: workspace, directory,
// file, group and example nodes, built from file-system scanning plus
// per-file analysis results, and reconciled against runtime events.
//
// All mutation goes through Tree, which serializes reconciliation behind
// one mutex; TestNode itself is plain data.
package hierarchy

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/testwire-labs/testwire/pkg/core"
)

// DefaultDynamicCap bounds synthesized children per parent so a buggy
// reporter cannot flood the tree.
const DefaultDynamicCap = 10000

// Config holds tree configuration.
type Config struct {
	// Logger is the structured logger (discard if nil).
	Logger *slog.Logger
	// DynamicCap overrides DefaultDynamicCap when positive.
	DynamicCap int
}

// Tree owns the test hierarchy for every open workspace.
type Tree struct {
	mu         sync.Mutex
	logger     *slog.Logger
	workspaces map[string]*core.TestNode // keyed by workspace root path
	files      map[string]*core.TestNode // file nodes keyed by path
	dirs       map[string]*core.TestNode // grouping nodes keyed by path
	dynamic    map[*core.TestNode]int    // synthesized children per parent
	dynamicCap int
}

// New creates an empty tree.
func New(cfg Config) *Tree {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cap := cfg.DynamicCap
	if cap <= 0 {
		cap = DefaultDynamicCap
	}
	return &Tree{
		logger:     logger,
		workspaces: make(map[string]*core.TestNode),
		files:      make(map[string]*core.TestNode),
		dirs:       make(map[string]*core.TestNode),
		dynamic:    make(map[*core.TestNode]int),
		dynamicCap: cap,
	}
}

// Workspace returns the workspace node for root, creating it on first use.
func (t *Tree) Workspace(root, label string) *core.TestNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workspace(root, label)
}

func (t *Tree) workspace(root, label string) *core.TestNode {
	root = filepath.Clean(root)
	if ws, ok := t.workspaces[root]; ok {
		return ws
	}
	if label == "" {
		label = filepath.Base(root)
	}
	ws := core.NewNode(core.KindWorkspace, root, label, root)
	t.workspaces[root] = ws
	t.logger.Debug("workspace registered", "root", root)
	return ws
}

// Workspaces returns every known workspace node.
func (t *Tree) Workspaces() []*core.TestNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*core.TestNode, 0, len(t.workspaces))
	for _, ws := range t.workspaces {
		out = append(out, ws)
	}
	return out
}

// WorkspaceFor returns the workspace whose root contains path, or nil.
func (t *Tree) WorkspaceFor(path string) *core.TestNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	path = filepath.Clean(path)
	var best *core.TestNode
	for root, ws := range t.workspaces {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if best == nil || len(root) > len(best.URI) {
				best = ws
			}
		}
	}
	return best
}

// FileNode returns the file node for path, or nil if not yet discovered.
func (t *Tree) FileNode(path string) *core.TestNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files[filepath.Clean(path)]
}

// RemoveFile drops the file node for path and any grouping nodes left
// empty, so a changed or deleted file can be re-discovered from scratch.
func (t *Tree) RemoveFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path = filepath.Clean(path)
	file, ok := t.files[path]
	if !ok {
		return
	}
	delete(t.files, path)
	file.Walk(func(n *core.TestNode) bool {
		delete(t.dynamic, n)
		return true
	})

	parent := file.Parent()
	if parent != nil {
		parent.RemoveChild(file.ID)
	}
	// Prune empty grouping levels upward.
	for parent != nil && parent.Kind == core.KindDirectory && !parent.HasChildren() {
		delete(t.dirs, parent.URI)
		next := parent.Parent()
		if next != nil {
			next.RemoveChild(parent.ID)
		}
		parent = next
	}
}

// ImportItems attaches per-file analysis results as children of the file
// node. Items with children become groups, leaves become examples. The
// first framework tag found propagates to every ancestor lacking one.
func (t *Tree) ImportItems(file *core.TestNode, items []core.DiscoveredItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.importItems(file, items)
}

func (t *Tree) importItems(parent *core.TestNode, items []core.DiscoveredItem) {
	for _, item := range items {
		kind := core.KindExample
		if len(item.Children) > 0 {
			kind = core.KindGroup
		}
		uri := item.URI
		if uri == "" {
			uri = parent.URI
		}
		node := core.NewNode(kind, item.ID, item.Label, uri)
		node.Range = item.Range
		parent.AddChild(node)
		for _, tag := range item.Tags {
			if strings.HasPrefix(tag, core.FrameworkTagPrefix) {
				node.PropagateTag(tag)
			} else {
				node.AddTag(tag)
			}
		}
		if len(item.Children) > 0 {
			t.importItems(node, item.Children)
		}
	}
}
