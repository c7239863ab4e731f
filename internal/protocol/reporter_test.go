package protocol

import (
	"bufio"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptEvents collects decoded events from a single connection until EOF.
func acceptEvents(t *testing.T, ln net.Listener, out chan<- []Event) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			out <- nil
			return
		}
		defer conn.Close()

		var events []Event
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			e, err := Decode(scanner.Bytes())
			if err != nil {
				continue
			}
			events = append(events, e)
		}
		out <- events
	}()
}

func TestReporter_EmitsOrderedStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []Event, 1)
	acceptEvents(t, ln, received)

	port := ln.Addr().(*net.TCPAddr).Port
	r, err := NewReporter(port)
	require.NoError(t, err)

	require.NoError(t, r.Start("a", "/w/spec/a_spec.rb"))
	require.NoError(t, r.Fail("a", "/w/spec/a_spec.rb", "boom"))
	require.NoError(t, r.Start("b", "/w/spec/a_spec.rb"))
	require.NoError(t, r.Pass("b", "/w/spec/a_spec.rb"))
	require.NoError(t, r.Finish())
	require.NoError(t, r.Close())

	events := <-received
	require.Len(t, events, 5)
	assert.Equal(t, KindStart, events[0].Kind)
	assert.Equal(t, KindFail, events[1].Kind)
	assert.Equal(t, "boom", events[1].Message)
	assert.Equal(t, KindPass, events[3].Kind)
	assert.Equal(t, KindFinish, events[4].Kind)
}

func TestNewReporterFromEnv_RequiresPort(t *testing.T) {
	t.Setenv(PortEnvVar, "")
	_, err := NewReporterFromEnv()
	require.Error(t, err)

	t.Setenv(PortEnvVar, "not-a-port")
	_, err = NewReporterFromEnv()
	require.Error(t, err)
}

func TestNewReporterFromEnv_Dials(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []Event, 1)
	acceptEvents(t, ln, received)

	port := ln.Addr().(*net.TCPAddr).Port
	t.Setenv(PortEnvVar, strconv.Itoa(port))

	r, err := NewReporterFromEnv()
	require.NoError(t, err)
	require.NoError(t, r.Finish())
	require.NoError(t, r.Close())

	events := <-received
	require.Len(t, events, 1)
	assert.Equal(t, KindFinish, events[0].Kind)
}

