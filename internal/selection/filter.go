// Package selection turns an (inclusions, exclusions) pair into the
// minimal request handed to the analysis collaborator for command
// resolution, preserving run semantics under partial selection.
package selection

import (
	"github.com/testwire-labs/testwire/pkg/core"
)

// Item is the serialized form of one selected node. A nil Children slice
// means "run the whole group"; an explicit slice forces the collaborator
// to construct an exact multi-test invocation.
type Item struct {
	ID       string   `json:"id"`
	URI      string   `json:"uri"`
	Tags     []string `json:"tags,omitempty"`
	Children []Item   `json:"children,omitempty"`
}

// Serialize applies the exclusion list to every included node and returns
// the minimal serialized selection:
//
//   - no exclusions: every included subtree verbatim, children explicit;
//   - a leaf survives unless excluded;
//   - a node whose children were all excluded is dropped entirely, so a
//     partial exclusion can never accidentally run everything under it;
//   - a node whose subtree is fully intact is serialized without an
//     explicit child list (the collaborator runs the whole group);
//   - otherwise the explicit surviving subset is listed.
func Serialize(included, excluded []*core.TestNode) []Item {
	if len(excluded) == 0 {
		out := make([]Item, 0, len(included))
		for _, n := range included {
			out = append(out, verbatim(n))
		}
		return out
	}

	excludedIDs := make(map[string]struct{}, len(excluded))
	for _, n := range excluded {
		excludedIDs[n.ID] = struct{}{}
	}

	var out []Item
	for _, n := range included {
		if item, keep, _ := filter(n, excludedIDs); keep {
			out = append(out, item)
		}
	}
	return out
}

// verbatim serializes a full subtree with explicit children.
func verbatim(n *core.TestNode) Item {
	item := Item{ID: n.ID, URI: n.URI, Tags: n.Tags()}
	for _, child := range n.Children() {
		item.Children = append(item.Children, verbatim(child))
	}
	return item
}

// filter returns the serialized node, whether it survives, and whether
// its entire subtree survived untouched.
func filter(n *core.TestNode, excluded map[string]struct{}) (item Item, keep, intact bool) {
	if _, drop := excluded[n.ID]; drop {
		return Item{}, false, false
	}

	item = Item{ID: n.ID, URI: n.URI, Tags: n.Tags()}
	if !n.HasChildren() {
		return item, true, true
	}

	children := n.Children()
	survivors := make([]Item, 0, len(children))
	intact = true
	for _, child := range children {
		childItem, childKeep, childIntact := filter(child, excluded)
		if !childKeep {
			intact = false
			continue
		}
		if !childIntact {
			intact = false
		}
		survivors = append(survivors, childItem)
	}

	// All children excluded: drop the node rather than serializing it
	// bare, which would run the whole group.
	if len(survivors) == 0 {
		return Item{}, false, false
	}
	if intact {
		// Whole subtree runs; no explicit child list.
		return item, true, true
	}
	item.Children = survivors
	return item, true, false
}
