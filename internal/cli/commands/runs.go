package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/testwire-labs/testwire/internal/cli/output"
	"github.com/testwire-labs/testwire/pkg/core"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show run history",
		Long: `List past runs from the state database, or show the per-test
results of one run when a run id is given.`,
		Example: `  # Recent runs
  testwire runs

  # Results of one run
  testwire runs 2f1b9c9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, args, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	return cmd
}

func runRuns(cmd *cobra.Command, args []string, limit int) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	store, err := openStore(cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(cmdCtx.Renderer, store, args[0])
	}
	return listRuns(cmdCtx.Renderer, store, limit)
}

func listRuns(r *output.Renderer, store core.Store, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(runs)
	case output.ModeYAML:
		return r.YAML(runs)
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Mode", "Status", "Started", "Duration"})
	for _, record := range runs {
		duration := ""
		if record.CompletedAt != nil {
			duration = record.CompletedAt.Sub(record.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			record.ID,
			string(record.Mode),
			r.Status(string(record.Status)),
			record.StartedAt.Format(time.RFC3339),
			duration,
		})
	}
	t.Render()
	r.Printf("%d run(s)\n", len(runs))
	return nil
}

func showRun(r *output.Renderer, store core.Store, runID string) error {
	record, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	results, err := store.GetResultsForRun(runID)
	if err != nil {
		return err
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(map[string]any{"run": record, "results": results})
	case output.ModeYAML:
		return r.YAML(map[string]any{"run": record, "results": results})
	}

	r.Header(fmt.Sprintf("Run %s (%s, %s)", record.ID, record.Mode, record.Status))
	if record.Error != "" {
		r.Printf("error: %s\n", record.Error)
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Test", "Status", "Duration", "Message"})
	for _, result := range results {
		t.AppendRow(table.Row{
			result.NodeID,
			r.Status(string(result.Status)),
			time.Duration(result.DurationMS) * time.Millisecond,
			truncate(result.Message, 60),
		})
	}
	t.Render()
	return nil
}
