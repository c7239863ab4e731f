// Package coverage converts the raw coverage artifact written by the
// spawned test process into per-line, per-branch records.
package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/testwire-labs/testwire/pkg/core"
)

// ArtifactPath is the workspace-relative path where the spawned process
// writes its raw coverage data.
const ArtifactPath = ".testwire/coverage.json"

// excludedSegments name dependency directories dropped before conversion.
var excludedSegments = []string{"vendor", "node_modules", ".bundle", "gems"}

// fileData is the raw per-file payload: execution counts per line (null
// for non-executable lines), branch counts keyed by the enclosing
// conditional's start line, and sub-range counts.
type fileData struct {
	Lines    []*int64                `json:"lines"`
	Branches map[string][]branchData `json:"branches,omitempty"`
	Ranges   []rangeData             `json:"ranges,omitempty"`
}

type branchData struct {
	Label string `json:"label"`
	Line  int    `json:"line"`
	Count int64  `json:"count"`
}

type rangeData struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Count int64 `json:"count"`
}

// Ingest reads the workspace's coverage artifact and converts it.
func Ingest(workspaceRoot string) ([]*core.FileCoverage, error) {
	path := filepath.Join(workspaceRoot, ArtifactPath)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading coverage artifact %s: %w", path, err)
	}
	var artifact map[string]fileData
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("decoding coverage artifact %s: %w", path, err)
	}
	return Convert(artifact), nil
}

// Convert turns the raw artifact into per-file coverage records. Branches
// attach to the line where their enclosing conditional begins, so a line
// opening a two-armed conditional carries both branch records. Files
// under dependency paths are excluded.
func Convert(artifact map[string]fileData) []*core.FileCoverage {
	paths := make([]string, 0, len(artifact))
	for path := range artifact {
		if isDependencyPath(path) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := make([]*core.FileCoverage, 0, len(paths))
	for _, path := range paths {
		out = append(out, convertFile(path, artifact[path]))
	}
	return out
}

func convertFile(path string, data fileData) *core.FileCoverage {
	branchesByLine := make(map[int][]core.BranchCoverage, len(data.Branches))
	for key, branches := range data.Branches {
		condLine, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		for _, b := range branches {
			branchesByLine[condLine] = append(branchesByLine[condLine], core.BranchCoverage{
				Label: b.Label,
				Line:  b.Line,
				Count: b.Count,
			})
		}
	}

	file := &core.FileCoverage{Path: path}
	for i, count := range data.Lines {
		if count == nil {
			continue
		}
		file.Lines = append(file.Lines, &core.LineCoverage{
			Line:     i,
			Count:    *count,
			Branches: branchesByLine[i],
		})
	}
	return file
}

func isDependencyPath(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		for _, excluded := range excludedSegments {
			if seg == excluded {
				return true
			}
		}
	}
	return false
}
