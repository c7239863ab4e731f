package hierarchy

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/testwire-labs/testwire/pkg/core"
)

// ScanOptions configures the file-system discovery tier.
type ScanOptions struct {
	// Dirs are the directory names scanned for test files.
	Dirs []string
	// Suffixes are the file name suffixes that identify test files.
	Suffixes []string
	// ExcludeDirs are directory names skipped entirely (fixtures etc.).
	ExcludeDirs []string
	// HelperFiles are framework helper file names never treated as tests.
	HelperFiles []string
}

// DefaultScanOptions returns the conventional layout: test files under
// test/, spec/ or features/, excluding fixture directories and helpers.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Dirs:        []string{"test", "spec", "features"},
		Suffixes:    []string{"_test.rb", "_spec.rb", ".feature"},
		ExcludeDirs: []string{"fixtures", "vendor", "node_modules"},
		HelperFiles: []string{"test_helper.rb", "spec_helper.rb", "rails_helper.rb"},
	}
}

func (o ScanOptions) matchesDir(name string) bool {
	for _, d := range o.Dirs {
		if name == d {
			return true
		}
	}
	return false
}

func (o ScanOptions) excludesDir(name string) bool {
	for _, d := range o.ExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

// MatchesFile reports whether a file name looks like a test file.
func (o ScanOptions) MatchesFile(name string) bool {
	for _, h := range o.HelperFiles {
		if name == h {
			return false
		}
	}
	for _, s := range o.Suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// ScanWorkspace walks the workspace root and materializes file nodes for
// every matching test file, returning them in walk order. Grouping nodes
// are created lazily and deduplicated by path.
func (t *Tree) ScanWorkspace(ctx context.Context, ws *core.TestNode, opts ScanOptions) ([]*core.TestNode, error) {
	var found []*core.TestNode
	root := ws.URI

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && opts.excludesDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !opts.MatchesFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if file := t.AddTestFile(ws, rel, opts); file != nil {
			found = append(found, file)
		}
		return nil
	})
	if err != nil {
		return found, fmt.Errorf("scanning workspace %s: %w", root, err)
	}

	t.logger.Info("workspace scanned", "root", root, "test_files", len(found))
	return found, nil
}

// AddTestFile materializes the hierarchy position for one test file given
// its workspace-relative path: the matched top-level directory segment
// becomes the first grouping level, and a further subdirectory
// immediately inside it becomes the second. Returns nil when the path is
// not under a recognized test directory.
func (t *Tree) AddTestFile(ws *core.TestNode, rel string, opts ScanOptions) *core.TestNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	rel = filepath.Clean(rel)
	segments := strings.Split(rel, string(filepath.Separator))

	matched := -1
	for i, seg := range segments[:len(segments)-1] {
		if opts.matchesDir(seg) {
			matched = i
			break
		}
	}
	if matched == -1 {
		return nil
	}

	parent := t.groupingNode(ws, ws, filepath.Join(segments[:matched+1]...))

	// Second grouping level: a subdirectory immediately inside the
	// matched directory, if the file sits at least that deep.
	if len(segments) > matched+2 {
		parent = t.groupingNode(ws, parent, filepath.Join(segments[:matched+2]...))
	}

	path := filepath.Join(ws.URI, rel)
	if existing, ok := t.files[path]; ok {
		return existing
	}
	id := "./" + filepath.ToSlash(rel)
	file := core.NewNode(core.KindFile, id, segments[len(segments)-1], path)
	parent.AddChild(file)
	t.files[path] = file
	return file
}

// groupingNode returns the directory node for the given workspace-relative
// path, creating it under parent on first use.
func (t *Tree) groupingNode(ws, parent *core.TestNode, rel string) *core.TestNode {
	path := filepath.Join(ws.URI, rel)
	if node, ok := t.dirs[path]; ok {
		return node
	}
	node := core.NewNode(core.KindDirectory, "./"+filepath.ToSlash(rel), filepath.Base(rel), path)
	parent.AddChild(node)
	t.dirs[path] = node
	return node
}
