package protocol

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// dialTimeout bounds how long a reporter waits for the engine's listener.
const dialTimeout = 5 * time.Second

// Reporter is the engine-side reference implementation of the in-process
// reporter contract: it dials the engine's socket and emits lifecycle
// events for every test the hosting process runs.
//
// A Reporter is constructed explicitly once per process and passed to the
// test framework hook; it is never resolved through global state. For
// every test it must emit start before any output, exactly one terminal
// event after completion, and a single finish after all tests ran.
type Reporter struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// NewReporter connects to the engine on the loopback interface.
func NewReporter(port int) (*Reporter, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing reporter socket %s: %w", addr, err)
	}
	return &Reporter{conn: conn, w: bufio.NewWriter(conn)}, nil
}

// NewReporterFromEnv connects using the port from PortEnvVar, as set by
// the engine at spawn time or exported into a terminal session.
func NewReporterFromEnv() (*Reporter, error) {
	raw := os.Getenv(PortEnvVar)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", PortEnvVar)
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", PortEnvVar, raw, err)
	}
	return NewReporter(port)
}

// Start signals that a test began executing.
func (r *Reporter) Start(id, uri string) error {
	return r.emit(Event{Kind: KindStart, ID: id, URI: uri})
}

// Pass signals that a test completed successfully.
func (r *Reporter) Pass(id, uri string) error {
	return r.emit(Event{Kind: KindPass, ID: id, URI: uri})
}

// Skip signals that a test was skipped.
func (r *Reporter) Skip(id, uri string) error {
	return r.emit(Event{Kind: KindSkip, ID: id, URI: uri})
}

// Fail signals an assertion failure with a message.
func (r *Reporter) Fail(id, uri, message string) error {
	return r.emit(Event{Kind: KindFail, ID: id, URI: uri, Message: message})
}

// Error signals an unexpected error while running a test.
func (r *Reporter) Error(id, uri, message string) error {
	return r.emit(Event{Kind: KindError, ID: id, URI: uri, Message: message})
}

// Finish signals that every test in this process has completed. It must
// be emitted exactly once, after which the reporter should be closed.
func (r *Reporter) Finish() error {
	return r.emit(Event{Kind: KindFinish})
}

// Emit sends an arbitrary event, for callers that carry line anchors.
func (r *Reporter) Emit(e Event) error {
	return r.emit(e)
}

func (r *Reporter) emit(e Event) error {
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(b); err != nil {
		return fmt.Errorf("writing %s event: %w", e.Kind, err)
	}
	// Flush per event so the engine sees progress while tests run.
	return r.w.Flush()
}

// Close flushes buffered events and releases the connection, allowing the
// engine's listener to observe end of stream.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}
