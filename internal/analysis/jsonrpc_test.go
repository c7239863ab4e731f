package analysis

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testwire-labs/testwire/internal/selection"
	"github.com/testwire-labs/testwire/internal/testutil"
)

// fakeServer answers framed JSON-RPC requests on the given pipes.
func fakeServer(t *testing.T, in io.Reader, out io.Writer, handle func(method string, params json.RawMessage) (any, error)) {
	t.Helper()
	go func() {
		r := bufio.NewReader(in)
		for {
			length := -1
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimRight(line, "\r\n")
				if line == "" {
					break
				}
				if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
					length, _ = strconv.Atoi(v)
				}
			}
			body := make([]byte, length)
			if _, err := io.ReadFull(r, body); err != nil {
				return
			}
			var msg jsonrpcMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				return
			}

			resp := jsonrpcMessage{JSONRPC: "2.0", ID: msg.ID}
			result, err := handle(msg.Method, msg.Params)
			if err != nil {
				resp.Error = &jsonrpcError{Code: -32000, Message: err.Error()}
			} else {
				raw, _ := json.Marshal(result)
				resp.Result = raw
			}
			payload, _ := json.Marshal(resp)
			fmt.Fprintf(out, "Content-Length: %d\r\n\r\n%s", len(payload), payload)
		}
	}()
}

func newTestClient(t *testing.T, handle func(method string, params json.RawMessage) (any, error)) *CommandClient {
	t.Helper()
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	t.Cleanup(func() {
		clientIn.Close()
		serverIn.Close()
	})
	fakeServer(t, serverIn, serverOut, handle)
	return NewCommandClient(clientIn, clientOut, testutil.NewTestLogger(t))
}

func TestCommandClient_Discover(t *testing.T) {
	client := newTestClient(t, func(method string, params json.RawMessage) (any, error) {
		require.Equal(t, "testwire/discover", method)
		var p struct {
			URI string `json:"uri"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, "/w/spec/user_spec.rb", p.URI)

		// Loosely typed payload: line numbers arrive as floats.
		return []map[string]any{
			{
				"id":    "./spec/user_spec.rb::1",
				"label": "User",
				"tags":  []string{"framework:rspec"},
				"range": map[string]any{
					"start": map[string]any{"line": 3.0},
					"end":   map[string]any{"line": 10.0},
				},
				"children": []map[string]any{
					{"id": "./spec/user_spec.rb::1::1", "label": "is valid"},
				},
			},
		}, nil
	})

	items, err := client.Discover(context.Background(), "/w/spec/user_spec.rb")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "User", items[0].Label)
	assert.Equal(t, []string{"framework:rspec"}, items[0].Tags)
	require.NotNil(t, items[0].Range)
	assert.Equal(t, uint32(3), items[0].Range.Start.Line)
	require.Len(t, items[0].Children, 1)
	assert.Equal(t, "is valid", items[0].Children[0].Label)
}

func TestCommandClient_ResolveCommands(t *testing.T) {
	client := newTestClient(t, func(method string, params json.RawMessage) (any, error) {
		require.Equal(t, "testwire/resolveCommands", method)
		return map[string]any{
			"commands": []map[string]any{
				{
					"commandLine": "bundle exec rspec ./spec/user_spec.rb",
					"nodeIds":     []string{"./spec/user_spec.rb"},
				},
			},
			"reporterPaths": []string{"/opt/testwire/reporter.rb"},
		}, nil
	})

	result, err := client.ResolveCommands(context.Background(), []selection.Item{{ID: "./spec/user_spec.rb"}})
	require.NoError(t, err)
	require.Len(t, result.Commands, 1)
	assert.Equal(t, "bundle exec rspec ./spec/user_spec.rb", result.Commands[0].CommandLine)
	assert.Equal(t, []string{"./spec/user_spec.rb"}, result.Commands[0].NodeIDs)
	assert.Equal(t, []string{"/opt/testwire/reporter.rb"}, result.ReporterPaths)
}

func TestCommandClient_ServerError(t *testing.T) {
	client := newTestClient(t, func(method string, params json.RawMessage) (any, error) {
		return nil, fmt.Errorf("no framework detected")
	})

	_, err := client.ResolveCommands(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no framework detected")
}

func TestCommandClient_ContextCancelled(t *testing.T) {
	// A server that never answers.
	clientIn, _ := io.Pipe()
	client := NewCommandClient(clientIn, io.Discard, testutil.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Discover(ctx, "/w/spec/a_spec.rb")
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommandClient_ConnectionLost(t *testing.T) {
	clientIn, serverOut := io.Pipe()
	client := NewCommandClient(clientIn, io.Discard, testutil.NewTestLogger(t))
	serverOut.Close()

	_, err := client.Discover(context.Background(), "/w/spec/a_spec.rb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection")
}
