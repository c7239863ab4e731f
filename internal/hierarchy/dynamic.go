package hierarchy

import (
	"strings"

	"github.com/testwire-labs/testwire/pkg/core"
)

// idSeparators delimit nesting levels inside runtime-reported test ids.
var idSeparators = []string{"::", "#", "/", "."}

func separatorFollows(prefix, id string) bool {
	rest := id[len(prefix):]
	for _, sep := range idSeparators {
		if strings.HasPrefix(rest, sep) {
			return true
		}
	}
	return false
}

func trimSeparators(s string) string {
	for {
		trimmed := s
		for _, sep := range idSeparators {
			trimmed = strings.TrimPrefix(trimmed, sep)
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// Resolve locates the node for a runtime-reported id within the file at
// path. When the id is unknown it descends through children whose id is
// a strict prefix of the incoming id followed by a separator (longest
// prefix wins; on equal length the most recently discovered child wins).
// If no nested match exists and a line number accompanies the event, a
// dynamic leaf is synthesized under the matched parent. Re-emitting the
// same id updates the existing node rather than duplicating it.
//
// The second return is true when a node was synthesized by this call;
// ok is false when the id cannot be matched at all.
func (t *Tree) Resolve(path, id string, line *int) (node *core.TestNode, created, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, exists := t.files[path]
	if !exists {
		return nil, false, false
	}
	if file.ID == id {
		return file, false, true
	}

	cur := file
	for {
		if child := cur.Child(id); child != nil {
			if line != nil && child.HasTag(core.TagDynamic) {
				child.Range = lineRange(*line)
			}
			return child, false, true
		}

		var best *core.TestNode
		bestLen := -1
		for _, child := range cur.Children() {
			if !child.Kind.CanHaveChildren() {
				continue
			}
			if len(child.ID) >= len(id) || !strings.HasPrefix(id, child.ID) {
				continue
			}
			if !separatorFollows(child.ID, id) {
				continue
			}
			// >= so that a later (more recently discovered) child wins
			// prefix-length ties; framework numbering for generated tests
			// is monotonic per process run.
			if len(child.ID) >= bestLen {
				best = child
				bestLen = len(child.ID)
			}
		}
		if best == nil {
			break
		}
		cur = best
	}

	if line == nil {
		return nil, false, false
	}
	return t.synthesize(cur, id, *line)
}

// synthesize creates a dynamic leaf for id under parent, anchored at the
// reported line.
func (t *Tree) synthesize(parent *core.TestNode, id string, line int) (*core.TestNode, bool, bool) {
	if t.dynamic[parent] >= t.dynamicCap {
		t.logger.Warn("dynamic test cap reached, dropping id",
			"parent", parent.ID, "id", id, "cap", t.dynamicCap)
		return nil, false, false
	}

	label := id
	if strings.HasPrefix(id, parent.ID) {
		label = trimSeparators(id[len(parent.ID):])
	}
	node := core.NewNode(core.KindExample, id, label, parent.URI)
	node.Range = lineRange(line)
	node.AddTag(core.TagDynamic)
	parent.AddChild(node)
	t.dynamic[parent]++

	t.logger.Debug("synthesized dynamic test", "id", id, "parent", parent.ID, "line", line)
	return node, true, true
}

func lineRange(line int) *core.Range {
	l := uint32(line)
	return &core.Range{Start: core.Position{Line: l}, End: core.Position{Line: l}}
}
