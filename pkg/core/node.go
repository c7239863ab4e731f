package core

// NodeKind identifies a node's position in the test hierarchy.
type NodeKind string

// Node kind constants.
const (
	KindWorkspace NodeKind = "workspace"
	KindDirectory NodeKind = "directory"
	KindFile      NodeKind = "file"
	KindGroup     NodeKind = "group"
	KindExample   NodeKind = "example"
)

// CanHaveChildren reports whether nodes of this kind may own children.
func (k NodeKind) CanHaveChildren() bool {
	switch k {
	case KindWorkspace, KindDirectory, KindFile, KindGroup:
		return true
	default:
		return false
	}
}

// Position in a source file expressed as zero-based line and character offset.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range in a source file expressed as (zero-based) start and end positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TagDynamic marks nodes synthesized from runtime events rather than
// static discovery.
const TagDynamic = "dynamic"

// FrameworkTagPrefix prefixes tags naming the test framework a node
// belongs to (e.g. "framework:minitest").
const FrameworkTagPrefix = "framework:"

// TestNode is one element of the hierarchical test model.
//
// Children are owned exclusively by their parent; insertion order is
// display order. The parent back-reference exists only for upward tag
// propagation, never for ownership. TestNode itself is not safe for
// concurrent mutation; callers serialize reconciliation (see hierarchy.Tree).
type TestNode struct {
	ID    string
	Label string
	URI   string
	Range *Range
	Kind  NodeKind

	parent   *TestNode
	tags     map[string]struct{}
	order    []string
	children map[string]*TestNode
}

// NewNode creates a node with no children and no tags.
func NewNode(kind NodeKind, id, label, uri string) *TestNode {
	return &TestNode{
		ID:    id,
		Label: label,
		URI:   uri,
		Kind:  kind,
	}
}

// Parent returns the owning node, or nil for a root.
func (n *TestNode) Parent() *TestNode { return n.parent }

// AddChild inserts child at the end of the display order. If a child with
// the same ID already exists it is replaced in place, keeping its position.
func (n *TestNode) AddChild(child *TestNode) {
	if n.children == nil {
		n.children = make(map[string]*TestNode)
	}
	if _, exists := n.children[child.ID]; !exists {
		n.order = append(n.order, child.ID)
	}
	child.parent = n
	n.children[child.ID] = child
}

// Child returns the direct child with the given ID, or nil.
func (n *TestNode) Child(id string) *TestNode {
	return n.children[id]
}

// RemoveChild detaches the direct child with the given ID.
func (n *TestNode) RemoveChild(id string) {
	child, ok := n.children[id]
	if !ok {
		return
	}
	child.parent = nil
	delete(n.children, id)
	for i, cid := range n.order {
		if cid == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Children returns the direct children in display order.
func (n *TestNode) Children() []*TestNode {
	out := make([]*TestNode, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.children[id])
	}
	return out
}

// HasChildren reports whether the node currently owns any children.
func (n *TestNode) HasChildren() bool { return len(n.children) > 0 }

// Len returns the number of direct children.
func (n *TestNode) Len() int { return len(n.children) }

// AddTag records a capability tag on the node.
func (n *TestNode) AddTag(tag string) {
	if n.tags == nil {
		n.tags = make(map[string]struct{})
	}
	n.tags[tag] = struct{}{}
}

// HasTag reports whether the node carries the given tag.
func (n *TestNode) HasTag(tag string) bool {
	_, ok := n.tags[tag]
	return ok
}

// Tags returns the node's tags in unspecified order.
func (n *TestNode) Tags() []string {
	out := make([]string, 0, len(n.tags))
	for t := range n.tags {
		out = append(out, t)
	}
	return out
}

// FrameworkTag returns the node's framework tag, or "" if none is set.
func (n *TestNode) FrameworkTag() string {
	for t := range n.tags {
		if isFrameworkTag(t) {
			return t
		}
	}
	return ""
}

// PropagateTag applies tag to the node and walks the parent chain,
// tagging every ancestor up to the workspace. A framework tag is only
// applied to ancestors that do not already carry one.
func (n *TestNode) PropagateTag(tag string) {
	framework := isFrameworkTag(tag)
	for cur := n; cur != nil; cur = cur.parent {
		if framework && cur.FrameworkTag() != "" {
			continue
		}
		cur.AddTag(tag)
	}
}

func isFrameworkTag(tag string) bool {
	return len(tag) > len(FrameworkTagPrefix) && tag[:len(FrameworkTagPrefix)] == FrameworkTagPrefix
}

// Walk visits the node and every descendant in display order, stopping
// early if fn returns false.
func (n *TestNode) Walk(fn func(*TestNode) bool) bool {
	if !fn(n) {
		return false
	}
	for _, id := range n.order {
		if !n.children[id].Walk(fn) {
			return false
		}
	}
	return true
}

// DiscoveredItem is the analysis collaborator's description of one test
// declaration inside a file. Items nest; an item with children becomes a
// group node, a leaf becomes an example node.
type DiscoveredItem struct {
	ID       string           `json:"id" mapstructure:"id"`
	Label    string           `json:"label" mapstructure:"label"`
	URI      string           `json:"uri" mapstructure:"uri"`
	Range    *Range           `json:"range,omitempty" mapstructure:"range"`
	Tags     []string         `json:"tags,omitempty" mapstructure:"tags"`
	Children []DiscoveredItem `json:"children,omitempty" mapstructure:"children"`
}
