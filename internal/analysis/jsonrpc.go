package analysis

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/testwire-labs/testwire/internal/selection"
	"github.com/testwire-labs/testwire/pkg/core"
)

// JSON-RPC methods implemented by the analysis server.
const (
	methodDiscover = "testwire/discover"
	methodResolve  = "testwire/resolveCommands"
)

// jsonrpcMessage represents a JSON-RPC 2.0 message.
type jsonrpcMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *jsonrpcError    `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("analysis server error %d: %s", e.Code, e.Message)
}

// CommandClient talks JSON-RPC 2.0 with an analysis server over a byte
// stream, typically the stdio of a spawned server process, using
// Content-Length framing.
type CommandClient struct {
	logger *slog.Logger

	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *jsonrpcMessage

	closeOnce sync.Once
	closed    chan struct{}
	readErr   error
}

// NewCommandClient wraps an established transport. The caller owns the
// lifetime of reader and writer.
func NewCommandClient(r io.Reader, w io.Writer, logger *slog.Logger) *CommandClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &CommandClient{
		logger:  logger,
		reader:  bufio.NewReader(r),
		writer:  w,
		pending: make(map[int64]chan *jsonrpcMessage),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// SpawnCommandClient starts the analysis server as a child process and
// wires a client to its stdio. The process lives until ctx is canceled.
func SpawnCommandClient(ctx context.Context, logger *slog.Logger, command string, args ...string) (*CommandClient, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("wiring analysis server stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("wiring analysis server stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting analysis server %q: %w", command, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger.Debug("analysis server started", "command", command, "pid", cmd.Process.Pid)
	return NewCommandClient(stdout, stdin, logger), nil
}

// Discover implements Client.
func (c *CommandClient) Discover(ctx context.Context, fileURI string) ([]core.DiscoveredItem, error) {
	raw, err := c.call(ctx, methodDiscover, map[string]any{"uri": fileURI})
	if err != nil {
		return nil, err
	}

	var loose []map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("decoding discover response: %w", err)
	}
	items := make([]core.DiscoveredItem, 0, len(loose))
	for _, entry := range loose {
		var item core.DiscoveredItem
		if err := decodeLoose(entry, &item); err != nil {
			return nil, fmt.Errorf("decoding discovered item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ResolveCommands implements Client.
func (c *CommandClient) ResolveCommands(ctx context.Context, sel []selection.Item) (*ResolveResult, error) {
	raw, err := c.call(ctx, methodResolve, map[string]any{"selection": sel})
	if err != nil {
		return nil, err
	}

	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("decoding resolve response: %w", err)
	}
	var result ResolveResult
	if err := decodeLoose(loose, &result); err != nil {
		return nil, fmt.Errorf("decoding resolve response: %w", err)
	}
	return &result, nil
}

// decodeLoose maps loosely-typed JSON payloads onto typed records,
// tolerating numbers arriving as floats and missing optional fields.
func decodeLoose(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// call performs one request/response exchange.
func (c *CommandClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan *jsonrpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	rawID := json.RawMessage(strconv.FormatInt(id, 10))
	msg := jsonrpcMessage{JSONRPC: "2.0", ID: &rawID, Method: method, Params: rawParams}
	if err := c.writeMessage(&msg); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		if c.readErr != nil {
			return nil, fmt.Errorf("analysis server connection lost: %w", c.readErr)
		}
		return nil, fmt.Errorf("analysis server connection closed")
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *CommandClient) writeMessage(msg *jsonrpcMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := c.writer.Write(body); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}
	return nil
}

// readLoop routes responses to pending calls until the stream ends.
func (c *CommandClient) readLoop() {
	for {
		msg, err := c.readMessage()
		if err != nil {
			c.closeOnce.Do(func() {
				c.readErr = err
				close(c.closed)
			})
			return
		}
		if msg.ID == nil {
			// Server-initiated notifications are not part of the
			// contract; log and ignore.
			c.logger.Debug("ignoring notification from analysis server", "method", msg.Method)
			continue
		}
		var id int64
		if err := json.Unmarshal(*msg.ID, &id); err != nil {
			c.logger.Warn("response with unparseable id", "error", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("response for unknown request", "id", id)
			continue
		}
		ch <- msg
	}
}

// readMessage reads one Content-Length framed message.
func (c *CommandClient) readMessage() (*jsonrpcMessage, error) {
	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			contentLength, err = strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length %q: %w", v, err)
			}
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("message without Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, err
	}
	var msg jsonrpcMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decoding message body: %w", err)
	}
	return &msg, nil
}
