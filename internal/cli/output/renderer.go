// Package output renders command results for terminals, scripts, and
// machine consumers.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"
)

// Mode selects the output format.
type Mode string

const (
	// ModeAuto picks table on a terminal and JSON otherwise.
	ModeAuto  Mode = "auto"
	ModeTable Mode = "table"
	ModeJSON  Mode = "json"
	ModeYAML  Mode = "yaml"
)

// Renderer writes formatted command output.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	term   *termenv.Output
}

// NewRenderer creates a renderer for the given writers and mode.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		term:   termenv.NewOutput(out),
	}
}

// EffectiveMode resolves ModeAuto against the attached writer.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if isTerminal(r.out) {
		return ModeTable
	}
	return ModeJSON
}

// Out returns the destination writer.
func (r *Renderer) Out() io.Writer { return r.out }

// Println writes a plain line to the output writer.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text to the output writer.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a bold section heading.
func (r *Renderer) Header(text string) {
	_, _ = fmt.Fprintln(r.out, r.term.String(text).Bold())
}

// Errorf writes formatted text to the error writer.
func (r *Renderer) Errorf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.errOut, format, a...)
}

// Status returns the status string colored for terminals. The color
// degrades automatically when the writer is not a terminal.
func (r *Renderer) Status(status string) string {
	var color termenv.Color
	switch status {
	case "passed", "completed":
		color = termenv.ANSIGreen
	case "failed", "errored":
		color = termenv.ANSIRed
	case "skipped", "cancelled":
		color = termenv.ANSIYellow
	case "started", "running":
		color = termenv.ANSICyan
	default:
		return status
	}
	return r.term.String(status).Foreground(color).String()
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML writes v as YAML.
func (r *Renderer) YAML(v any) error {
	enc := yaml.NewEncoder(r.out)
	defer enc.Close()
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
