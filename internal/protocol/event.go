// Package protocol defines the wire format shared by the execution engine
// and the in-process reporter: one JSON object per newline-terminated line,
// carried over a TCP connection from the test process to the engine.
//
// The channel is one-directional and fire-and-forget; there is no
// request/response pattern. The engine binds an ephemeral port before
// spawning and hands it to the test process through PortEnvVar.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Environment variables crossing the process boundary.
const (
	// PortEnvVar carries the engine's listening port to the spawned process.
	PortEnvVar = "TESTWIRE_REPORTER_PORT"
	// ReporterPathsEnvVar carries the reporter injection paths, joined with
	// the platform path-list separator.
	ReporterPathsEnvVar = "TESTWIRE_REPORTER_PATHS"
)

// Kind names one notification in the event stream.
type Kind string

// Event kinds.
const (
	KindStart  Kind = "start"
	KindPass   Kind = "pass"
	KindSkip   Kind = "skip"
	KindFail   Kind = "fail"
	KindError  Kind = "error"
	KindFinish Kind = "finish"
)

// ErrMalformed is returned for payloads that cannot be interpreted as a
// protocol event. Malformed events are logged and dropped by the engine,
// never fatal.
var ErrMalformed = errors.New("malformed protocol event")

// Event is one per-test lifecycle notification.
type Event struct {
	Kind    Kind   `json:"event"`
	ID      string `json:"id,omitempty"`
	URI     string `json:"uri,omitempty"`
	Message string `json:"message,omitempty"`
	// Line anchors dynamically generated tests whose identity is only
	// known at runtime (zero-based).
	Line *int `json:"line,omitempty"`
}

// Terminal reports whether the event carries a test's final status.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindPass, KindSkip, KindFail, KindError:
		return true
	default:
		return false
	}
}

// Validate checks the payload shape for the event's kind.
func (e Event) Validate() error {
	switch e.Kind {
	case KindFinish:
		return nil
	case KindStart, KindPass, KindSkip:
		if e.ID == "" {
			return fmt.Errorf("%w: %s event without id", ErrMalformed, e.Kind)
		}
		return nil
	case KindFail, KindError:
		if e.ID == "" {
			return fmt.Errorf("%w: %s event without id", ErrMalformed, e.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrMalformed, e.Kind)
	}
}

// Marshal encodes the event as a single newline-terminated line.
func Marshal(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Kind, err)
	}
	return append(b, '\n'), nil
}

// Decode parses one line into an event. The trailing newline is optional.
func Decode(line []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
