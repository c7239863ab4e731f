package runner

import (
	"fmt"
	"io"
	"sync"

	"github.com/testwire-labs/testwire/pkg/core"
)

// Terminal hosts interactive command execution. In terminal mode the
// engine exports the reporter environment into the terminal and types
// the resolved command instead of spawning the process itself.
type Terminal interface {
	// SendText types a line into the terminal and submits it.
	SendText(text string) error
	// Interrupt delivers an interrupt to whatever runs in the terminal.
	Interrupt() error
	// Show brings the terminal to the foreground.
	Show()
}

// TerminalFactory opens the named terminal for a workspace. The engine
// calls it at most once per workspace and reuses the terminal across
// runs; implementations typically derive the terminal's name from the
// workspace label.
type TerminalFactory func(ws *core.TestNode) (Terminal, error)

// terminalFor returns the workspace's terminal, opening it on first use.
func (e *Engine) terminalFor(ws *core.TestNode) (Terminal, error) {
	if e.newTerminal == nil {
		return nil, fmt.Errorf("%w: no terminal configured", ErrSpawn)
	}
	e.termMu.Lock()
	defer e.termMu.Unlock()
	if term, ok := e.terminals[ws.URI]; ok {
		return term, nil
	}
	term, err := e.newTerminal(ws)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	e.terminals[ws.URI] = term
	return term, nil
}

// WriterTerminal is a Terminal backed by any writer, typically a PTY
// master or an attached console.
type WriterTerminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterTerminal(w io.Writer) *WriterTerminal {
	return &WriterTerminal{w: w}
}

func (t *WriterTerminal) SendText(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintln(t.w, text); err != nil {
		return fmt.Errorf("failed to write to terminal: %w", err)
	}
	return nil
}

// Interrupt sends ETX, the byte a ctrl-c keypress produces.
func (t *WriterTerminal) Interrupt() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write([]byte{0x03}); err != nil {
		return fmt.Errorf("failed to interrupt terminal: %w", err)
	}
	return nil
}

func (t *WriterTerminal) Show() {}
