package core

import (
	"testing"
)

func TestTestNode_ChildOrder(t *testing.T) {
	file := NewNode(KindFile, "./spec/user_spec.rb", "user_spec.rb", "/w/spec/user_spec.rb")

	file.AddChild(NewNode(KindExample, "a", "a", file.URI))
	file.AddChild(NewNode(KindExample, "c", "c", file.URI))
	file.AddChild(NewNode(KindExample, "b", "b", file.URI))

	children := file.Children()
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
	for i, want := range []string{"a", "c", "b"} {
		if children[i].ID != want {
			t.Errorf("child %d: expected %q, got %q", i, want, children[i].ID)
		}
	}
}

func TestTestNode_AddChildReplacesInPlace(t *testing.T) {
	group := NewNode(KindGroup, "g", "g", "/w/spec/a_spec.rb")
	group.AddChild(NewNode(KindExample, "g::1", "first", group.URI))
	group.AddChild(NewNode(KindExample, "g::2", "second", group.URI))

	replacement := NewNode(KindExample, "g::1", "renamed", group.URI)
	group.AddChild(replacement)

	if group.Len() != 2 {
		t.Fatalf("expected 2 children after replacement, got %d", group.Len())
	}
	children := group.Children()
	if children[0] != replacement {
		t.Error("replacement should keep the original display position")
	}
	if children[0].Label != "renamed" {
		t.Errorf("expected replaced label, got %q", children[0].Label)
	}
}

func TestTestNode_RemoveChild(t *testing.T) {
	dir := NewNode(KindDirectory, "spec", "spec", "/w/spec")
	child := NewNode(KindFile, "f", "f", "/w/spec/f_spec.rb")
	dir.AddChild(child)

	dir.RemoveChild("f")

	if dir.HasChildren() {
		t.Error("expected no children after removal")
	}
	if child.Parent() != nil {
		t.Error("removed child should have no parent")
	}
}

func TestTestNode_FrameworkTagPropagation(t *testing.T) {
	ws := NewNode(KindWorkspace, "/w", "w", "/w")
	dir := NewNode(KindDirectory, "spec", "spec", "/w/spec")
	file := NewNode(KindFile, "./spec/a_spec.rb", "a_spec.rb", "/w/spec/a_spec.rb")
	ws.AddChild(dir)
	dir.AddChild(file)

	file.PropagateTag("framework:rspec")

	for _, n := range []*TestNode{file, dir, ws} {
		if !n.HasTag("framework:rspec") {
			t.Errorf("node %s should carry the framework tag", n.ID)
		}
	}

	// A second framework does not overwrite ancestors that already have one.
	other := NewNode(KindFile, "./spec/b_spec.rb", "b_spec.rb", "/w/spec/b_spec.rb")
	dir.AddChild(other)
	other.PropagateTag("framework:minitest")

	if dir.HasTag("framework:minitest") {
		t.Error("directory framework tag should not be replaced")
	}
	if !other.HasTag("framework:minitest") {
		t.Error("file should carry its own framework tag")
	}
}

func TestNodeKind_CanHaveChildren(t *testing.T) {
	if KindExample.CanHaveChildren() {
		t.Error("example nodes must not own children")
	}
	for _, k := range []NodeKind{KindWorkspace, KindDirectory, KindFile, KindGroup} {
		if !k.CanHaveChildren() {
			t.Errorf("%s nodes should own children", k)
		}
	}
}
