package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/testwire-labs/testwire/internal/cancel"
	"github.com/testwire-labs/testwire/internal/coverage"
	"github.com/testwire-labs/testwire/internal/protocol"
	"github.com/testwire-labs/testwire/internal/selection"
	"github.com/testwire-labs/testwire/pkg/core"
)

// drainTimeout bounds how long the engine waits for straggler events
// after the test process has exited.
const drainTimeout = time.Second

// Execute runs the selection and blocks until the run settles. The
// returned run is sealed. Cancelling ctx stops in-flight processes and
// preserves the statuses recorded so far; cancellation is not an error.
func (e *Engine) Execute(ctx context.Context, req core.RunRequest) (*core.TestRun, error) {
	if len(req.Included) == 0 {
		return nil, fmt.Errorf("empty selection")
	}
	scope := cancel.NewScope(ctx)
	defer scope.Release()
	return e.execute(scope, req)
}

func (e *Engine) execute(scope *cancel.Scope, req core.RunRequest) (*core.TestRun, error) {
	run := core.NewTestRun(req.Mode)
	e.logger.Info("starting run", "id", run.ID, "mode", req.Mode, "selected", len(req.Included))

	var record *core.RunRecord
	if e.store != nil {
		var err error
		record, err = e.store.CreateRun(req.Mode)
		if err != nil {
			e.logger.Warn("run will not be persisted", "error", err)
		}
	}

	x := &execution{
		engine:       e,
		scope:        scope,
		run:          run,
		rediscovered: make(map[string]struct{}),
	}

	var firstErr error
	for _, group := range groupByWorkspace(req.Included) {
		if scope.Err() != nil {
			break
		}
		if err := x.runWorkspace(group, req.Excluded); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if req.Mode == core.ModeCoverage && scope.Err() == nil {
		x.ingestCoverage(req.Included)
	}

	run.Seal()
	e.persist(record, run, scope, firstErr)

	if scope.Err() != nil {
		e.logger.Info("run cancelled", "id", run.ID, "cause", context.Cause(scope.Context()))
		return run, nil
	}
	e.logger.Info("run finished", "id", run.ID)
	return run, firstErr
}

// persist writes the run outcome and per-node terminal results.
func (e *Engine) persist(record *core.RunRecord, run *core.TestRun, scope *cancel.Scope, runErr error) {
	if e.store == nil || record == nil {
		return
	}
	for id, status := range run.Statuses() {
		if !status.Terminal() {
			continue
		}
		result := &core.TestResult{
			RunID:      record.ID,
			NodeID:     id,
			Status:     status,
			Message:    run.Message(id),
			DurationMS: run.Duration(id).Milliseconds(),
		}
		if err := e.store.RecordResult(result); err != nil {
			e.logger.Warn("failed to persist result", "node", id, "error", err)
		}
	}

	status := core.RunStatusCompleted
	msg := ""
	switch {
	case scope.Err() != nil:
		status = core.RunStatusCancelled
	case runErr != nil:
		status = core.RunStatusFailed
		msg = runErr.Error()
	}
	if err := e.store.CompleteRun(record.ID, status, msg); err != nil {
		e.logger.Warn("failed to persist run outcome", "run", record.ID, "error", err)
	}
}

// workspaceGroup is the slice of a selection belonging to one workspace.
type workspaceGroup struct {
	workspace *core.TestNode
	nodes     []*core.TestNode
}

func groupByWorkspace(included []*core.TestNode) []workspaceGroup {
	byRoot := make(map[string]*workspaceGroup)
	for _, node := range included {
		ws := owningWorkspace(node)
		if ws == nil {
			continue
		}
		g, ok := byRoot[ws.URI]
		if !ok {
			g = &workspaceGroup{workspace: ws}
			byRoot[ws.URI] = g
		}
		g.nodes = append(g.nodes, node)
	}
	roots := make([]string, 0, len(byRoot))
	for root := range byRoot {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	out := make([]workspaceGroup, 0, len(roots))
	for _, root := range roots {
		out = append(out, *byRoot[root])
	}
	return out
}

func owningWorkspace(node *core.TestNode) *core.TestNode {
	for n := node; n != nil; n = n.Parent() {
		if n.Kind == core.KindWorkspace {
			return n
		}
	}
	return nil
}

// execution is the mutable state of one Execute call.
type execution struct {
	engine       *Engine
	scope        *cancel.Scope
	run          *core.TestRun
	rediscovered map[string]struct{}
}

func (x *execution) runWorkspace(group workspaceGroup, excluded []*core.TestNode) error {
	e := x.engine
	sel := selection.Serialize(group.nodes, excluded)
	res, err := e.analyzer.ResolveCommands(x.scope.Context(), sel)
	if err != nil {
		e.logger.Error("command resolution failed",
			"workspace", group.workspace.URI, "error", err)
		x.failSelection(group.nodes, excluded,
			fmt.Sprintf("command resolution failed: %v", err))
		return fmt.Errorf("%w: %v", ErrResolution, err)
	}

	var firstErr error
	for _, cmd := range res.Commands {
		if x.scope.Err() != nil {
			break
		}
		paths := cmd.ReporterPaths
		if len(paths) == 0 {
			paths = res.ReporterPaths
		}
		if err := x.runCommand(group.workspace, cmd, paths); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// failSelection records an errored terminal status for every leaf of the
// selection that resolution was supposed to cover.
func (x *execution) failSelection(included, excluded []*core.TestNode, msg string) {
	skip := make(map[string]struct{}, len(excluded))
	for _, n := range excluded {
		skip[n.ID] = struct{}{}
	}
	for _, root := range included {
		root.Walk(func(n *core.TestNode) bool {
			if _, ok := skip[n.ID]; ok {
				return false
			}
			if n.HasChildren() {
				return true
			}
			if err := x.run.Finish(n.ID, core.StatusErrored, msg); err == nil {
				x.engine.observers.StatusChanged(x.run, n.ID, core.StatusErrored)
			}
			return true
		})
	}
}

func (x *execution) runCommand(ws *core.TestNode, cmd core.ResolvedCommand, reporterPaths []string) error {
	e := x.engine
	for _, id := range cmd.NodeIDs {
		x.run.Enqueue(id)
		e.observers.StatusChanged(x.run, id, core.StatusEnqueued)
	}

	srv, err := newEventServer(e.logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	env := []string{fmt.Sprintf("%s=%d", protocol.PortEnvVar, srv.Port())}
	if len(reporterPaths) > 0 {
		env = append(env,
			protocol.ReporterPathsEnvVar+"="+strings.Join(reporterPaths, string(os.PathListSeparator)))
	}
	dir := cmd.WorkingDir
	if dir == "" {
		dir = ws.URI
	}
	e.logger.Debug("executing command",
		"command", cmd.CommandLine, "dir", dir, "port", srv.Port())

	switch x.run.Mode {
	case core.ModeTerminal:
		return x.runInTerminal(ws, cmd, env, srv)
	case core.ModeDebug:
		return x.runUnderDebugger(cmd, env, dir, srv)
	default:
		return x.runProcess(cmd, env, dir, srv)
	}
}

func (x *execution) runProcess(cmd core.ResolvedCommand, env []string, dir string, srv *eventServer) error {
	e := x.engine
	sink := func(p []byte) {
		x.run.AppendOutput(p)
		e.observers.Output(x.run, p)
	}
	proc, err := startProcess(x.scope, cmd.CommandLine, dir, env, sink, e.logger)
	if err != nil {
		x.failIDs(cmd.NodeIDs, err.Error())
		return err
	}

	procDone := make(chan struct{})
	go func() {
		proc.Wait()
		close(procDone)
	}()

	finished := x.stream(srv, procDone)
	procErr := proc.Wait()
	if procErr != nil && x.scope.Err() == nil {
		e.logger.Debug("test process exited nonzero", "error", procErr)
	}
	x.settle(finished)
	return nil
}

func (x *execution) runInTerminal(ws *core.TestNode, cmd core.ResolvedCommand, env []string, srv *eventServer) error {
	e := x.engine
	term, err := e.terminalFor(ws)
	if err != nil {
		x.failIDs(cmd.NodeIDs, err.Error())
		return err
	}
	term.Show()
	for _, kv := range env {
		if err := term.SendText("export " + kv); err != nil {
			return fmt.Errorf("%w: %v", ErrSpawn, err)
		}
	}
	if err := term.SendText(cmd.CommandLine); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	// Interrupt whatever runs in the terminal if the scope is cancelled.
	stop := context.AfterFunc(x.scope.Context(), func() {
		if err := term.Interrupt(); err != nil {
			e.logger.Warn("failed to interrupt terminal", "error", err)
		}
	})
	defer stop()

	finished := x.stream(srv, nil)
	x.settle(finished)
	return nil
}

func (x *execution) runUnderDebugger(cmd core.ResolvedCommand, env []string, dir string, srv *eventServer) error {
	e := x.engine
	if e.debugger == nil {
		err := fmt.Errorf("%w: no debugger configured", ErrSpawn)
		x.failIDs(cmd.NodeIDs, err.Error())
		return err
	}
	started, err := e.debugger.Launch(x.scope.Context(), cmd.CommandLine, env, dir)
	if err != nil {
		x.failIDs(cmd.NodeIDs, err.Error())
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	if !started {
		return fmt.Errorf("%w: debugger declined to launch", ErrSpawn)
	}

	finished := x.stream(srv, nil)
	x.settle(finished)
	return nil
}

// stream consumes reporter events until the finish event, cancellation,
// or the end of the stream. procDone, when non-nil, signals that the
// spawned process has exited; remaining events are drained with a bounded
// grace period. Returns whether a finish event arrived.
func (x *execution) stream(srv *eventServer, procDone <-chan struct{}) bool {
	var timeout <-chan time.Time
	for {
		select {
		case ev, ok := <-srv.Events():
			if !ok {
				return false
			}
			if ev.Kind == protocol.KindFinish {
				return true
			}
			x.apply(ev)
		case <-x.scope.Done():
			srv.Close()
			x.drain(srv)
			return false
		case <-procDone:
			procDone = nil
			srv.Drain()
			timeout = time.After(drainTimeout)
		case <-timeout:
			srv.Close()
		}
	}
}

// drain applies whatever is already decoded without blocking for more.
func (x *execution) drain(srv *eventServer) {
	for {
		select {
		case ev, ok := <-srv.Events():
			if !ok {
				return
			}
			if ev.Kind == protocol.KindFinish {
				return
			}
			x.apply(ev)
		default:
			return
		}
	}
}

// settle closes out nodes the stream left hanging, including nodes that
// were enqueued but never reported at all, such as when the process exits
// without ever dialing the socket. After a clean finish nothing should
// still be running; without one the stream was cut short.
func (x *execution) settle(finished bool) {
	if x.scope.Err() != nil {
		return
	}
	msg := "test run ended before a result was reported"
	if !finished {
		msg = "test process exited before reporting a result"
	}
	for id, status := range x.run.Statuses() {
		if status != core.StatusStarted && status != core.StatusEnqueued {
			continue
		}
		if err := x.run.Finish(id, core.StatusErrored, msg); err == nil {
			x.engine.observers.StatusChanged(x.run, id, core.StatusErrored)
		}
	}
}

func (x *execution) failIDs(ids []string, msg string) {
	for _, id := range ids {
		if err := x.run.Finish(id, core.StatusErrored, msg); err == nil {
			x.engine.observers.StatusChanged(x.run, id, core.StatusErrored)
		}
	}
}

// apply folds one event into the run, resolving its id against the
// hierarchy and re-discovering the file once if the id is unknown.
func (x *execution) apply(ev protocol.Event) {
	e := x.engine
	node := x.lookup(ev)
	if node == nil {
		e.logger.Warn("event references unknown test id", "id", ev.ID, "uri", ev.URI)
		return
	}

	switch ev.Kind {
	case protocol.KindStart:
		x.run.Start(node.ID)
		e.observers.StatusChanged(x.run, node.ID, core.StatusStarted)
	case protocol.KindPass:
		x.finishNode(node, core.StatusPassed, "")
	case protocol.KindSkip:
		x.finishNode(node, core.StatusSkipped, ev.Message)
	case protocol.KindFail:
		x.finishNode(node, core.StatusFailed, ev.Message)
	case protocol.KindError:
		x.finishNode(node, core.StatusErrored, ev.Message)
	}
}

// finishNode records a terminal status. Group-level events fan out to the
// leaves underneath; terminal statuses live on leaves only.
func (x *execution) finishNode(node *core.TestNode, status core.TestStatus, msg string) {
	e := x.engine
	if !node.HasChildren() {
		if err := x.run.Finish(node.ID, status, msg); err != nil {
			e.logger.Debug("discarding terminal status", "node", node.ID, "error", err)
			return
		}
		e.observers.StatusChanged(x.run, node.ID, status)
		return
	}
	node.Walk(func(n *core.TestNode) bool {
		if n.HasChildren() {
			return true
		}
		if cur, ok := x.run.Status(n.ID); ok && cur.Terminal() {
			return true
		}
		if err := x.run.Finish(n.ID, status, msg); err == nil {
			e.observers.StatusChanged(x.run, n.ID, status)
		}
		return true
	})
}

func (x *execution) lookup(ev protocol.Event) *core.TestNode {
	e := x.engine
	path := uriToPath(ev.URI)
	if node, created, ok := e.tree.Resolve(path, ev.ID, ev.Line); ok {
		if created {
			e.observers.NodeAdded(node)
		}
		return node
	}
	if ev.URI == "" {
		return nil
	}
	if _, done := x.rediscovered[path]; done {
		return nil
	}
	x.rediscovered[path] = struct{}{}

	items, err := e.analyzer.Discover(x.scope.Context(), ev.URI)
	if err != nil {
		e.logger.Warn("re-discovery failed", "uri", ev.URI, "error", err)
		return nil
	}
	file := e.tree.FileNode(path)
	if file == nil {
		ws := e.tree.WorkspaceFor(path)
		if ws == nil {
			return nil
		}
		rel, err := relPath(ws.URI, path)
		if err != nil {
			return nil
		}
		file = e.tree.AddTestFile(ws, rel, e.scan)
		if file == nil {
			return nil
		}
		e.observers.NodeAdded(file)
	}
	e.tree.ImportItems(file, items)

	node, created, ok := e.tree.Resolve(path, ev.ID, ev.Line)
	if !ok {
		return nil
	}
	if created {
		e.observers.NodeAdded(node)
	}
	return node
}

// ingestCoverage reads each workspace's coverage artifact and attaches
// the merged result to the run.
func (x *execution) ingestCoverage(included []*core.TestNode) {
	e := x.engine
	seen := make(map[string]struct{})
	var files []*core.FileCoverage
	for _, node := range included {
		ws := owningWorkspace(node)
		if ws == nil {
			continue
		}
		if _, ok := seen[ws.URI]; ok {
			continue
		}
		seen[ws.URI] = struct{}{}
		got, err := coverage.Ingest(ws.URI)
		if err != nil {
			e.logger.Warn("coverage artifact unreadable", "workspace", ws.URI, "error", err)
			continue
		}
		files = append(files, got...)
	}
	if len(files) == 0 {
		return
	}
	x.run.AttachCoverage(files)
	e.observers.CoverageAttached(x.run)
}

func uriToPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func relPath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside workspace %s", path, root)
	}
	return rel, nil
}
