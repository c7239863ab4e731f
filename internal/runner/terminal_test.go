package runner

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testwire-labs/testwire/internal/analysis"
	"github.com/testwire-labs/testwire/internal/protocol"
	"github.com/testwire-labs/testwire/internal/selection"
	"github.com/testwire-labs/testwire/pkg/core"
)

// scriptedTerminal records typed lines and lets the test play the part
// of the process running inside the terminal.
type scriptedTerminal struct {
	mu    sync.Mutex
	lines []string
	sent  chan string
}

func newScriptedTerminal() *scriptedTerminal {
	return &scriptedTerminal{sent: make(chan string, 16)}
}

func (t *scriptedTerminal) SendText(text string) error {
	t.mu.Lock()
	t.lines = append(t.lines, text)
	t.mu.Unlock()
	t.sent <- text
	return nil
}

func (t *scriptedTerminal) Interrupt() error { return nil }

func (t *scriptedTerminal) Show() {}

// respond dials the exported reporter port once the command line is
// typed and reports the node as passed.
func (t *scriptedTerminal) respond(tb testing.TB, commandLine, nodeID, nodeURI string) {
	var port int
	for line := range t.sent {
		if rest, ok := strings.CutPrefix(line, "export "+protocol.PortEnvVar+"="); ok {
			p, err := strconv.Atoi(rest)
			if err != nil {
				tb.Errorf("bad port line %q: %v", line, err)
				return
			}
			port = p
			continue
		}
		if line != commandLine {
			continue
		}
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			tb.Errorf("failed to dial reporter port: %v", err)
			return
		}
		fmt.Fprintf(conn, "{\"event\":\"start\",\"id\":%q,\"uri\":%q}\n", nodeID, nodeURI)
		fmt.Fprintf(conn, "{\"event\":\"pass\",\"id\":%q,\"uri\":%q}\n", nodeID, nodeURI)
		fmt.Fprintln(conn, `{"event":"finish"}`)
		conn.Close()
	}
}

func TestTerminalModeReusesWorkspaceTerminal(t *testing.T) {
	var analyzer stubAnalyzer
	engine, tree := newTestEngine(t, &analyzer)
	_, file := seedWorkspace(t, tree)
	id := file.ID + "::4"
	const commandLine = "bin/rails test test/user_test.rb"

	analyzer.resolve = func([]selection.Item) (*analysis.ResolveResult, error) {
		return &analysis.ResolveResult{
			Commands: []core.ResolvedCommand{{
				CommandLine: commandLine,
				NodeIDs:     []string{id},
			}},
		}, nil
	}

	term := newScriptedTerminal()
	defer close(term.sent)
	go term.respond(t, commandLine, id, file.URI)

	opened := 0
	engine.newTerminal = func(*core.TestNode) (Terminal, error) {
		opened++
		return term, nil
	}

	// Consecutive runs against the same workspace reuse its terminal.
	for i := 0; i < 2; i++ {
		run, err := engine.Execute(context.Background(), core.RunRequest{
			Included: []*core.TestNode{file},
			Mode:     core.ModeTerminal,
		})
		require.NoError(t, err)
		status, ok := run.Status(id)
		require.True(t, ok)
		assert.Equal(t, core.StatusPassed, status)
	}
	assert.Equal(t, 1, opened)

	term.mu.Lock()
	defer term.mu.Unlock()
	assert.Contains(t, term.lines, commandLine)
}

func TestTerminalsKeyedByWorkspace(t *testing.T) {
	engine, tree := newTestEngine(t, &stubAnalyzer{})
	wsA, _ := seedWorkspace(t, tree)
	wsB, _ := seedWorkspace(t, tree)

	opened := map[string]int{}
	engine.newTerminal = func(ws *core.TestNode) (Terminal, error) {
		opened[ws.URI]++
		return newScriptedTerminal(), nil
	}

	termA, err := engine.terminalFor(wsA)
	require.NoError(t, err)
	again, err := engine.terminalFor(wsA)
	require.NoError(t, err)
	assert.Same(t, termA, again)

	termB, err := engine.terminalFor(wsB)
	require.NoError(t, err)
	assert.NotSame(t, termA, termB)
	assert.Equal(t, map[string]int{wsA.URI: 1, wsB.URI: 1}, opened)
}
