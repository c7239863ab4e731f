package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testwire-labs/testwire/pkg/core"
)

// buildFile returns a file node with two groups of two examples each.
func buildFile() *core.TestNode {
	file := core.NewNode(core.KindFile, "./spec/a_spec.rb", "a_spec.rb", "/w/spec/a_spec.rb")
	for _, g := range []string{"1", "2"} {
		group := core.NewNode(core.KindGroup, file.ID+"::"+g, "group "+g, file.URI)
		file.AddChild(group)
		for _, e := range []string{"1", "2"} {
			group.AddChild(core.NewNode(core.KindExample, group.ID+"::"+e, "example "+e, file.URI))
		}
	}
	return file
}

func TestSerialize_NoExclusionsIsVerbatim(t *testing.T) {
	file := buildFile()
	items := Serialize([]*core.TestNode{file}, nil)

	require.Len(t, items, 1)
	root := items[0]
	assert.Equal(t, file.ID, root.ID)
	require.Len(t, root.Children, 2, "full subtree is explicit")
	require.Len(t, root.Children[0].Children, 2)
	assert.Equal(t, "./spec/a_spec.rb::1::1", root.Children[0].Children[0].ID)
	assert.Equal(t, "./spec/a_spec.rb::2::2", root.Children[1].Children[1].ID)
}

func TestSerialize_AllChildrenSurviveOmitsChildList(t *testing.T) {
	file := buildFile()
	other := core.NewNode(core.KindExample, "elsewhere", "elsewhere", "/w/spec/b_spec.rb")

	// The exclusion hits nothing inside this subtree.
	items := Serialize([]*core.TestNode{file}, []*core.TestNode{other})
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Children, "intact subtree serializes without explicit children")
}

func TestSerialize_PartialSurvivalListsExactSurvivors(t *testing.T) {
	file := buildFile()
	excluded := file.Child("./spec/a_spec.rb::1").Child("./spec/a_spec.rb::1::2")

	items := Serialize([]*core.TestNode{file}, []*core.TestNode{excluded})
	require.Len(t, items, 1)
	root := items[0]
	require.Len(t, root.Children, 2)

	group1 := root.Children[0]
	require.Len(t, group1.Children, 1, "only the surviving example is listed")
	assert.Equal(t, "./spec/a_spec.rb::1::1", group1.Children[0].ID)

	// Group 2 is untouched, so it carries no explicit child list.
	assert.Nil(t, root.Children[1].Children)
}

func TestSerialize_AllChildrenExcludedDropsNode(t *testing.T) {
	file := buildFile()
	group1 := file.Child("./spec/a_spec.rb::1")
	ex1 := group1.Child("./spec/a_spec.rb::1::1")
	ex2 := group1.Child("./spec/a_spec.rb::1::2")

	items := Serialize([]*core.TestNode{file}, []*core.TestNode{ex1, ex2})
	require.Len(t, items, 1)
	root := items[0]
	require.Len(t, root.Children, 1, "the emptied group is absent entirely")
	assert.Equal(t, "./spec/a_spec.rb::2", root.Children[0].ID)
}

func TestSerialize_ExcludedInternalNodeDropsSubtree(t *testing.T) {
	file := buildFile()
	group1 := file.Child("./spec/a_spec.rb::1")

	items := Serialize([]*core.TestNode{file}, []*core.TestNode{group1})
	require.Len(t, items, 1)
	require.Len(t, items[0].Children, 1)
	assert.Equal(t, "./spec/a_spec.rb::2", items[0].Children[0].ID)
}

func TestSerialize_WholeSelectionExcluded(t *testing.T) {
	file := buildFile()
	items := Serialize([]*core.TestNode{file}, []*core.TestNode{file})
	assert.Empty(t, items)
}

func TestSerialize_LeafInclusion(t *testing.T) {
	leaf := core.NewNode(core.KindExample, "x", "x", "/w/spec/x_spec.rb")
	items := Serialize([]*core.TestNode{leaf}, []*core.TestNode{core.NewNode(core.KindExample, "y", "y", "")})
	require.Len(t, items, 1)
	assert.Equal(t, "x", items[0].ID)
}
