package commands

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/testwire-labs/testwire/internal/cli/output"
	"github.com/testwire-labs/testwire/pkg/core"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Exclude  []string
	Mode     string
	Coverage bool
	Watch    bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [selector...]",
		Short: "Run tests from the workspace",
		Long: `Execute tests and stream their results.

Selectors name test files, directories, or individual tests by id.
Without selectors, the whole workspace runs. Commands come from the
configured analyzer; results stream back over a local socket while the
tests execute.`,
		Example: `  # Run the whole workspace
  testwire run

  # Run one file
  testwire run test/user_test.rb

  # Run a single test by id
  testwire run "./test/user_test.rb::12"

  # Run a directory, skipping one file
  testwire run test --exclude test/slow_test.rb

  # Collect coverage
  testwire run --coverage

  # Re-run on every change
  testwire run --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Exclude, "exclude", "x", nil, "Selector to exclude (repeatable)")
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "run", "Execution mode (run|terminal|debug)")
	cmd.Flags().BoolVar(&opts.Coverage, "coverage", false, "Collect coverage while running")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-run the selection when test files change")

	return cmd
}

func runRun(cmd *cobra.Command, args []string, opts *RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	mode, err := resolveMode(opts)
	if err != nil {
		return err
	}

	ws, files, err := cmdCtx.scanWorkspace(cmd)
	if err != nil {
		return err
	}
	if err := cmdCtx.discoverFiles(cmd, files); err != nil {
		return err
	}

	included, err := cmdCtx.resolveSelectors(ws, args)
	if err != nil {
		return err
	}
	if len(included) == 0 {
		included = []*core.TestNode{ws}
	}
	excluded, err := cmdCtx.resolveSelectors(ws, opts.Exclude)
	if err != nil {
		return err
	}

	req := core.RunRequest{
		Included:   included,
		Excluded:   excluded,
		Mode:       mode,
		Continuous: opts.Watch,
	}

	if opts.Watch {
		return cmdCtx.Engine.Watch(cmd.Context(), req)
	}

	start := time.Now()
	run, err := cmdCtx.Engine.Execute(cmd.Context(), req)
	if err != nil {
		if run != nil {
			renderRun(cmdCtx.Renderer, run, time.Since(start))
		}
		return err
	}
	renderRun(cmdCtx.Renderer, run, time.Since(start))

	if failed, errored := tally(run); failed+errored > 0 {
		return fmt.Errorf("%d test(s) did not pass", failed+errored)
	}
	return nil
}

func resolveMode(opts *RunOptions) (core.RunMode, error) {
	if opts.Coverage {
		if opts.Mode != "run" {
			return "", fmt.Errorf("--coverage cannot be combined with --mode %s", opts.Mode)
		}
		return core.ModeCoverage, nil
	}
	switch opts.Mode {
	case "run":
		return core.ModeRun, nil
	case "terminal":
		return core.ModeTerminal, nil
	case "debug":
		return core.ModeDebug, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected run, terminal, or debug)", opts.Mode)
	}
}

// discoverLimit bounds concurrent discovery requests to the analyzer.
const discoverLimit = 8

// discoverFiles asks the analyzer for the tests inside each scanned
// file. Requests run concurrently; imports are serialized by the tree.
func (c *CommandContext) discoverFiles(cmd *cobra.Command, files []*core.TestNode) error {
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(discoverLimit)
	for _, file := range files {
		file := file
		g.Go(func() error {
			items, err := c.Analyzer.Discover(ctx, file.URI)
			if err != nil {
				return fmt.Errorf("failed to discover %s: %w", file.ID, err)
			}
			c.Tree.ImportItems(file, items)
			return nil
		})
	}
	return g.Wait()
}

// resolveSelectors maps selector strings onto hierarchy nodes. A selector
// matches a node id ("./test/user_test.rb::12") or a workspace-relative
// path ("test/user_test.rb").
func (c *CommandContext) resolveSelectors(ws *core.TestNode, selectors []string) ([]*core.TestNode, error) {
	if len(selectors) == 0 {
		return nil, nil
	}

	byID := make(map[string]*core.TestNode)
	ws.Walk(func(n *core.TestNode) bool {
		byID[n.ID] = n
		return true
	})

	var nodes []*core.TestNode
	for _, sel := range selectors {
		if node, ok := byID[sel]; ok {
			nodes = append(nodes, node)
			continue
		}
		// Path form: normalize to the "./rel" id convention.
		rel := sel
		if filepath.IsAbs(sel) {
			var err error
			rel, err = filepath.Rel(ws.URI, sel)
			if err != nil || strings.HasPrefix(rel, "..") {
				return nil, fmt.Errorf("selector %q is outside the workspace", sel)
			}
		}
		id := "./" + filepath.ToSlash(filepath.Clean(rel))
		if node, ok := byID[id]; ok {
			nodes = append(nodes, node)
			continue
		}
		return nil, fmt.Errorf("nothing matches selector %q", sel)
	}
	return nodes, nil
}

func tally(run *core.TestRun) (failed, errored int) {
	for _, status := range run.Statuses() {
		switch status {
		case core.StatusFailed:
			failed++
		case core.StatusErrored:
			errored++
		}
	}
	return failed, errored
}

func renderRun(r *output.Renderer, run *core.TestRun, elapsed time.Duration) {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		_ = r.JSON(runSummary(run, elapsed))
	case output.ModeYAML:
		_ = r.YAML(runSummary(run, elapsed))
	default:
		renderRunTable(r, run, elapsed)
	}
}

type runResult struct {
	Node       string `json:"node" yaml:"node"`
	Status     string `json:"status" yaml:"status"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	DurationMS int64  `json:"durationMs" yaml:"durationMs"`
}

type runReport struct {
	RunID    string      `json:"runId" yaml:"runId"`
	Mode     string      `json:"mode" yaml:"mode"`
	Elapsed  string      `json:"elapsed" yaml:"elapsed"`
	Results  []runResult `json:"results" yaml:"results"`
	Coverage int         `json:"coveredFiles,omitempty" yaml:"coveredFiles,omitempty"`
}

func runSummary(run *core.TestRun, elapsed time.Duration) runReport {
	report := runReport{
		RunID:    run.ID,
		Mode:     string(run.Mode),
		Elapsed:  elapsed.Round(time.Millisecond).String(),
		Coverage: len(run.Coverage()),
	}
	for _, id := range sortedNodeIDs(run) {
		status, _ := run.Status(id)
		report.Results = append(report.Results, runResult{
			Node:       id,
			Status:     string(status),
			Message:    run.Message(id),
			DurationMS: run.Duration(id).Milliseconds(),
		})
	}
	return report
}

func renderRunTable(r *output.Renderer, run *core.TestRun, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Test", "Status", "Duration", "Message"})

	counts := map[core.TestStatus]int{}
	for _, id := range sortedNodeIDs(run) {
		status, _ := run.Status(id)
		counts[status]++
		t.AppendRow(table.Row{
			id,
			r.Status(string(status)),
			run.Duration(id).Round(time.Millisecond),
			truncate(run.Message(id), 60),
		})
	}
	t.Render()

	r.Printf("%d passed, %d failed, %d errored, %d skipped in %s\n",
		counts[core.StatusPassed], counts[core.StatusFailed],
		counts[core.StatusErrored], counts[core.StatusSkipped],
		elapsed.Round(time.Millisecond))
	if files := run.Coverage(); len(files) > 0 {
		r.Printf("coverage collected for %d file(s)\n", len(files))
	}
}

func sortedNodeIDs(run *core.TestRun) []string {
	statuses := run.Statuses()
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
