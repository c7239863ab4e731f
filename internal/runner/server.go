package runner

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/testwire-labs/testwire/internal/protocol"
)

const eventBuffer = 256

// eventServer is the receiving end of the reporter stream. It listens on
// an ephemeral loopback port before the test process is spawned and
// decodes newline-delimited events onto a channel. One connection is
// active at a time; further dials queue in the listen backlog until the
// active stream ends.
type eventServer struct {
	ln     net.Listener
	events chan protocol.Event
	logger *slog.Logger

	drainOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newEventServer(logger *slog.Logger) (*eventServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind reporter socket: %w", err)
	}
	s := &eventServer{
		ln:     ln,
		events: make(chan protocol.Event, eventBuffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

// Port returns the ephemeral port the server is bound to.
func (s *eventServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Events yields decoded events in arrival order. The channel is closed
// when the server shuts down.
func (s *eventServer) Events() <-chan protocol.Event {
	return s.events
}

// Drain stops accepting new connections but lets established ones push
// their remaining events; the event channel closes once they finish.
func (s *eventServer) Drain() {
	s.drainOnce.Do(func() {
		s.ln.Close()
	})
}

// Close shuts down immediately, unblocking any connection mid-stream.
func (s *eventServer) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.Drain()
}

func (s *eventServer) serve() {
	defer close(s.events)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.handle(conn)
	}
}

func (s *eventServer) handle(conn net.Conn) {
	defer conn.Close()
	go func() {
		<-s.done
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := protocol.Decode(line)
		if err != nil {
			s.logger.Warn("dropping undecodable reporter line", "error", err)
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("reporter connection closed", "error", err)
	}
}
