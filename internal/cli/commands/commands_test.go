package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testwire-labs/testwire/internal/cli/config"
	"github.com/testwire-labs/testwire/internal/hierarchy"
	"github.com/testwire-labs/testwire/internal/testutil"
	"github.com/testwire-labs/testwire/pkg/core"
)

// seedTestWorkspace creates a workspace on disk with a config file and
// two test files, and loads its configuration.
func seedTestWorkspace(t *testing.T, extraConfig string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "test", "models"), 0o755))
	for _, f := range []string{
		filepath.Join("test", "user_test.rb"),
		filepath.Join("test", "models", "order_test.rb"),
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, f), []byte("# tests\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "testwire.yaml"),
		[]byte("state_path: \":memory:\"\noutput: json\n"+extraConfig), 0o644))

	config.ResetConfig()
	_, err := config.LoadConfig(filepath.Join(root, "testwire.yaml"), nil)
	require.NoError(t, err)
	t.Cleanup(config.ResetConfig)
	return root
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "testwire v1.2.3")
}

func TestListCommandJSON(t *testing.T) {
	seedTestWorkspace(t, "")

	cmd := NewListCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var root struct {
		Kind     string `json:"kind"`
		Children []struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"children"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &root))
	assert.Equal(t, "workspace", root.Kind)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "./test", root.Children[0].ID)
	assert.Equal(t, "directory", root.Children[0].Kind)
}

func TestRunsCommandEmptyHistory(t *testing.T) {
	seedTestWorkspace(t, "")

	cmd := NewRunsCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "null\n", out.String())
}

func TestResolveSelectors(t *testing.T) {
	tree := hierarchy.New(hierarchy.Config{Logger: testutil.NewTestLogger(t)})
	root := t.TempDir()
	ws := tree.Workspace(root, "ws")
	file := tree.AddTestFile(ws, filepath.Join("test", "user_test.rb"), hierarchy.DefaultScanOptions())
	require.NotNil(t, file)
	tree.ImportItems(file, []core.DiscoveredItem{{ID: file.ID + "::4", Label: "t"}})

	c := &CommandContext{Tree: tree}

	nodes, err := c.resolveSelectors(ws, []string{"test/user_test.rb"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, file, nodes[0])

	nodes, err = c.resolveSelectors(ws, []string{file.ID + "::4"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, file.ID+"::4", nodes[0].ID)

	nodes, err = c.resolveSelectors(ws, []string{filepath.Join(root, "test", "user_test.rb")})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, file, nodes[0])

	_, err = c.resolveSelectors(ws, []string{"test/missing_test.rb"})
	require.Error(t, err)

	nodes, err = c.resolveSelectors(ws, nil)
	require.NoError(t, err)
	assert.Nil(t, nodes)
}

func TestResolveMode(t *testing.T) {
	mode, err := resolveMode(&RunOptions{Mode: "run"})
	require.NoError(t, err)
	assert.Equal(t, core.ModeRun, mode)

	mode, err = resolveMode(&RunOptions{Mode: "terminal"})
	require.NoError(t, err)
	assert.Equal(t, core.ModeTerminal, mode)

	mode, err = resolveMode(&RunOptions{Mode: "run", Coverage: true})
	require.NoError(t, err)
	assert.Equal(t, core.ModeCoverage, mode)

	_, err = resolveMode(&RunOptions{Mode: "debug", Coverage: true})
	require.Error(t, err)

	_, err = resolveMode(&RunOptions{Mode: "bogus"})
	require.Error(t, err)
}
