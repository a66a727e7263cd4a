// Package mcp provides MCP client adapters for connecting to upstream servers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpguard/mcpguard/internal/domain/mcperr"
	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/port/outbound"
	"github.com/mcpguard/mcpguard/pkg/mcp"
)

// protocolVersion is the fixed MCP protocol version string sent with
// every initialize handshake.
const protocolVersion = "2025-06-18"

// DefaultCallTimeout is the per-request timeout applied to every
// handshake and listing call when the caller does not configure one.
const DefaultCallTimeout = 30 * time.Second

// clientName/clientVersion identify this scanner to the upstream server
// during the initialize handshake.
const clientName = "mcpguard"
const clientVersion = "1.0.0"

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// waiter delivers a single correlated response to the caller blocked on
// it in ListTools/ListResources/Connect.
type waiter chan wireResponse

// ScanClientConfig configures a ScanClient's per-call timeout.
type ScanClientConfig struct {
	CallTimeout time.Duration
}

// ScanClient drives the MCP handshake and tool/resource enumeration
// against one spawned server. It implements outbound.ScanClient.
type ScanClient struct {
	spec        scan.ServerSpec
	transport   *StdioClient
	callTimeout time.Duration

	stdin io.Writer

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[string]waiter

	readerDone chan struct{}
}

// NewScanClient creates a ScanClient for spec. An empty cfg.CallTimeout
// falls back to DefaultCallTimeout.
func NewScanClient(spec scan.ServerSpec, cfg ScanClientConfig) *ScanClient {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	env := environFromSpec(spec)
	return &ScanClient{
		spec:        spec,
		transport:   NewStdioClient(spec.Command, spec.Args, env),
		callTimeout: timeout,
		pending:     make(map[string]waiter),
		readerDone:  make(chan struct{}),
	}
}

func environFromSpec(spec scan.ServerSpec) []string {
	if len(spec.Environment) == 0 {
		return nil
	}
	env := make([]string, 0, len(spec.Environment))
	for k, v := range spec.Environment {
		env = append(env, k+"="+v)
	}
	return env
}

// Connect spawns the server, performs the initialize handshake within
// the configured timeout, and sends notifications/initialized.
func (c *ScanClient) Connect(ctx context.Context) error {
	stdin, stdout, err := c.transport.Start(ctx)
	if err != nil {
		return &mcperr.TransportError{Server: c.spec.Name, Err: err}
	}
	c.stdin = stdin

	go c.readLoop(mcp.NewFrameReader(stdout))

	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": clientName, "version": clientVersion},
		"capabilities":    map[string]any{},
	})

	if _, err := c.call(ctx, "initialize", params); err != nil {
		_ = c.transport.Close()
		if isTimeout(err) {
			return &mcperr.TimeoutError{Server: c.spec.Name, Op: "initialize"}
		}
		return &mcperr.TransportError{Server: c.spec.Name, StderrTail: c.transport.StderrTail(), Err: err}
	}

	if err := c.notify("notifications/initialized", nil); err != nil {
		return &mcperr.TransportError{Server: c.spec.Name, StderrTail: c.transport.StderrTail(), Err: err}
	}
	return nil
}

// ListTools calls tools/list, tolerating "method not found" as an empty list.
func (c *ScanClient) ListTools(ctx context.Context) ([]scan.ToolInfo, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		if isMethodNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var parsed struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &mcperr.ProtocolError{Server: c.spec.Name, Err: fmt.Errorf("parse tools/list result: %w", err)}
	}

	tools := make([]scan.ToolInfo, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		tools = append(tools, scan.ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// ListResources calls resources/list, tolerating "method not found" as an empty list.
func (c *ScanClient) ListResources(ctx context.Context) ([]scan.ResourceInfo, error) {
	result, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		if isMethodNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var parsed struct {
		Resources []scan.ResourceInfo `json:"resources"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &mcperr.ProtocolError{Server: c.spec.Name, Err: fmt.Errorf("parse resources/list result: %w", err)}
	}
	return parsed.Resources, nil
}

// Close terminates the child and releases resources.
func (c *ScanClient) Close() error {
	return c.transport.Close()
}

// call sends a request with a strictly increasing integer ID and blocks
// until the matching response arrives, ctx is cancelled, or the
// client's call timeout expires.
func (c *ScanClient) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	id := c.nextID.Add(1)
	idBytes, _ := json.Marshal(id)

	w := make(waiter, 1)
	key := string(idBytes)
	c.mu.Lock()
	c.pending[key] = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	req := wireRequest{JSONRPC: "2.0", ID: idBytes, Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s request: %w", method, err)
	}
	if err := c.writeFrame(raw); err != nil {
		return nil, &mcperr.TransportError{Server: c.spec.Name, StderrTail: c.transport.StderrTail(), Err: err}
	}

	select {
	case resp := <-w:
		if resp.Error != nil {
			return nil, &mcperr.ProtocolError{Server: c.spec.Name, Code: resp.Error.Code, Err: fmt.Errorf("%s", resp.Error.Message)}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, &mcperr.TimeoutError{Server: c.spec.Name, Op: method}
	}
}

// notify sends a notification (no id, no response expected).
func (c *ScanClient) notify(method string, params json.RawMessage) error {
	req := wireRequest{JSONRPC: "2.0", Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mcp: marshal %s notification: %w", method, err)
	}
	return c.writeFrame(raw)
}

func (c *ScanClient) writeFrame(raw []byte) error {
	if _, err := c.stdin.Write(append(raw, '\n')); err != nil {
		return err
	}
	return nil
}

// readLoop demultiplexes responses to their waiters by id. Notifications
// and requests from the server (there should be none during a scan) are
// discarded.
func (c *ScanClient) readLoop(reader *mcp.FrameReader) {
	defer close(c.readerDone)
	for {
		raw, err := reader.ReadFrame()
		if err != nil {
			return
		}
		var resp wireResponse
		if err := json.Unmarshal(raw, &resp); err != nil || len(resp.ID) == 0 || resp.Method != "" {
			continue
		}
		c.mu.Lock()
		w, ok := c.pending[string(resp.ID)]
		c.mu.Unlock()
		if ok {
			w <- resp
		}
	}
}

func isTimeout(err error) bool {
	var t *mcperr.TimeoutError
	return errors.As(err, &t)
}

// isMethodNotFound reports whether err is a ProtocolError carrying the
// JSON-RPC "method not found" code (-32601).
func isMethodNotFound(err error) bool {
	var pe *mcperr.ProtocolError
	return errors.As(err, &pe) && pe.Code == -32601
}

// Compile-time check that ScanClient implements outbound.ScanClient.
var _ outbound.ScanClient = (*ScanClient)(nil)
