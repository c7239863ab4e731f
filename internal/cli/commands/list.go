package commands

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/testwire-labs/testwire/internal/cli/output"
	"github.com/testwire-labs/testwire/pkg/core"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	var discover bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the test hierarchy",
		Long: `Scan the workspace for test files and print the hierarchy.

With --tests, each file is also parsed by the analyzer so individual
tests appear under their files.`,
		Example: `  # List test files
  testwire list

  # List files and the tests inside them
  testwire list --tests

  # Machine-readable output
  testwire list --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, discover)
		},
	}

	cmd.Flags().BoolVar(&discover, "tests", false, "Parse files and list individual tests")

	return cmd
}

type listedNode struct {
	ID       string       `json:"id" yaml:"id"`
	Label    string       `json:"label" yaml:"label"`
	Kind     string       `json:"kind" yaml:"kind"`
	Children []listedNode `json:"children,omitempty" yaml:"children,omitempty"`
}

func runList(cmd *cobra.Command, discover bool) error {
	var cmdCtx *CommandContext
	if discover {
		full, cleanup, err := NewCommandContext(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		cmdCtx = full
	} else {
		cmdCtx = NewCommandContextWithoutEngine(cmd)
	}

	ws, files, err := cmdCtx.scanWorkspace(cmd)
	if err != nil {
		return err
	}
	if discover {
		if err := cmdCtx.discoverFiles(cmd, files); err != nil {
			return err
		}
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(toListed(ws))
	case output.ModeYAML:
		return r.YAML(toListed(ws))
	default:
		listTable(r, ws)
		return nil
	}
}

func toListed(n *core.TestNode) listedNode {
	out := listedNode{ID: n.ID, Label: n.Label, Kind: string(n.Kind)}
	for _, child := range n.Children() {
		out.Children = append(out.Children, toListed(child))
	}
	return out
}

func listTable(r *output.Renderer, ws *core.TestNode) {
	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Test", "Kind"})

	count := 0
	ws.Walk(func(n *core.TestNode) bool {
		if n == ws {
			return true
		}
		depth := nodeDepth(n)
		t.AppendRow(table.Row{strings.Repeat("  ", depth-1) + n.Label, string(n.Kind)})
		count++
		return true
	})
	t.Render()
	r.Printf("%d node(s)\n", count)
}

func nodeDepth(n *core.TestNode) int {
	depth := 0
	for p := n.Parent(); p != nil; p = p.Parent() {
		depth++
	}
	return depth
}
