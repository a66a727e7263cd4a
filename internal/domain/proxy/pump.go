// Package proxy contains the core domain logic for the MCP proxy.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpguard/mcpguard/internal/domain/audit"
	"github.com/mcpguard/mcpguard/internal/observability"
	"github.com/mcpguard/mcpguard/pkg/mcp"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// deniedErrorCode is the JSON-RPC error code used for rule-engine denials.
// -32000 is in the "server error" reserved range, left unassigned by the
// base JSON-RPC 2.0 spec.
const deniedErrorCode = -32000

// blockedByField identifies mcpguard as the denial's source in the
// error's data object, so a client can distinguish a policy denial from
// an upstream application error without parsing the message text.
const blockedByField = "mcp-guard"

// pendingCall tracks an in-flight, allowed tools/call request awaiting
// its matching response so the pump can record one complete audit entry
// per call instead of one per message.
type pendingCall struct {
	toolName  string
	toolArgs  json.RawMessage
	startedAt time.Time
}

// Pump forwards newline-delimited JSON-RPC messages bidirectionally
// between a client and an upstream MCP server, consulting a
// RuleInterceptor on client-to-server tools/call requests and writing
// one audit.Entry per call.
//
// A plain MessageInterceptor chain cannot express this by itself: the
// audit entry for an allowed call is only complete once the matching
// response arrives on the opposite direction, so the pump keeps a
// pending-call table keyed by JSON-RPC request ID alongside the
// interceptor it drives.
type Pump struct {
	serverName  string
	interceptor MessageInterceptor
	auditStore  audit.Store
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu      sync.Mutex
	pending map[string]pendingCall
}

// NewPump creates a Pump that runs msg through interceptor on the
// client-to-server path and writes completed calls to auditStore.
func NewPump(serverName string, interceptor MessageInterceptor, auditStore audit.Store, logger *slog.Logger) *Pump {
	return &Pump{
		serverName:  serverName,
		interceptor: interceptor,
		auditStore:  auditStore,
		logger:      logger,
		pending:     make(map[string]pendingCall),
	}
}

// SetMetrics attaches a Metrics instance the pump records call counts and
// durations to. A nil metrics (the default) disables recording entirely.
func (p *Pump) SetMetrics(metrics *observability.Metrics) {
	p.metrics = metrics
}

// Run proxies clientIn/clientOut against serverIn/serverOut until
// either side reaches EOF or ctx is cancelled. It blocks until both
// directions have stopped.
func (p *Pump) Run(ctx context.Context, clientIn io.Reader, clientOut io.Writer, serverIn io.Writer, serverOut io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.pumpClientToServer(ctx, clientIn, clientOut, serverIn)
		if c, ok := serverIn.(io.Closer); ok {
			_ = c.Close()
		}
		if err != nil {
			errCh <- fmt.Errorf("client->server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.pumpServerToClient(ctx, serverOut, clientOut)
		if c, ok := clientOut.(io.Closer); ok {
			_ = c.Close()
		}
		if err != nil {
			errCh <- fmt.Errorf("server->client: %w", err)
		}
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case err := <-errCh:
		cancel()
		<-done
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// pumpClientToServer reads frames from the client, evaluates tools/call
// requests against the rule engine, and forwards allowed traffic to the
// upstream server. A denied call never reaches the server; the pump
// synthesizes a JSON-RPC error response and writes it to the client.
func (p *Pump) pumpClientToServer(ctx context.Context, clientIn io.Reader, clientOut io.Writer, serverIn io.Writer) error {
	reader := mcp.NewFrameReader(clientIn)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := reader.ReadFrame()
		if err != nil {
			return err
		}

		msg, decodeErr := mcp.WrapMessage(raw, mcp.ClientToServer)
		if decodeErr != nil {
			p.logger.Debug("dropping undecodable client message", "error", decodeErr)
			continue
		}

		call, isCall := msg.ToolCall()
		startedAt := time.Now()

		_, err = p.interceptor.Intercept(ctx, msg)
		if err != nil {
			var denied *RuleDeniedError
			if !errors.As(err, &denied) {
				return err
			}
			if err := p.writeDenial(clientOut, msg.RawID(), denied); err != nil {
				return err
			}
			// RuleDeniedError is only ever returned for a tools/call
			// message, even one whose params failed to parse (call is
			// then the zero value), so it is always worth auditing.
			p.recordBlocked(ctx, call, denied)
			continue
		}

		if isCall {
			p.trackPending(msg.RawID(), call, startedAt)
		}

		if err := mcp.WriteFrame(serverIn, msg.Raw); err != nil {
			return err
		}
	}
}

// pumpServerToClient reads frames from the upstream server and forwards
// them verbatim to the client. Responses matching a pending tools/call
// complete that call's audit entry.
func (p *Pump) pumpServerToClient(ctx context.Context, serverOut io.Reader, clientOut io.Writer) error {
	reader := mcp.NewFrameReader(serverOut)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := reader.ReadFrame()
		if err != nil {
			return err
		}

		if err := mcp.WriteFrame(clientOut, raw); err != nil {
			return err
		}

		msg, decodeErr := mcp.WrapMessage(raw, mcp.ServerToClient)
		if decodeErr != nil || !msg.IsResponse() {
			continue
		}
		p.completePending(ctx, msg)
	}
}

// trackPending records an allowed call's identity so its audit entry can
// be completed once the matching response is seen. id is the raw
// JSON-RPC id bytes; calls with no id (malformed requests) are skipped.
func (p *Pump) trackPending(id json.RawMessage, call mcp.ToolCallParams, startedAt time.Time) {
	if len(id) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[string(id)] = pendingCall{
		toolName:  call.Name,
		toolArgs:  call.Arguments,
		startedAt: startedAt,
	}
}

func (p *Pump) takePending(id json.RawMessage) (pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.pending[string(id)]
	if ok {
		delete(p.pending, string(id))
	}
	return pc, ok
}

// completePending writes the audit entry for a response whose id
// matches a pending tools/call. Responses with no matching pending
// entry (notifications, replies to non-tool-call requests) are ignored.
func (p *Pump) completePending(ctx context.Context, msg *mcp.Message) {
	id := msg.RawID()
	if len(id) == 0 {
		return
	}
	pc, ok := p.takePending(id)
	if !ok {
		return
	}

	resp := msg.Response()
	result, truncated := audit.TruncateResult(rawResult(resp))
	entry := audit.Entry{
		Timestamp:  pc.startedAt.UTC(),
		ServerName: p.serverName,
		ToolName:   pc.toolName,
		ToolArgs:   audit.RedactArgs(pc.toolArgs),
		Result:     result,
		Truncated:  truncated,
		DurationMS: time.Since(pc.startedAt).Milliseconds(),
	}
	if _, err := p.auditStore.Append(ctx, entry); err != nil {
		p.logger.Error("failed to append audit entry", "tool", pc.toolName, "error", err)
		if p.metrics != nil {
			p.metrics.AuditAppendErrors.Inc()
		}
	}
	if p.metrics != nil {
		p.metrics.CallsTotal.WithLabelValues(p.serverName, pc.toolName, "allowed").Inc()
		p.metrics.CallDuration.WithLabelValues(p.serverName, pc.toolName).Observe(time.Since(pc.startedAt).Seconds())
	}
}

// recordBlocked writes an audit entry for a call denied before it ever
// reached the upstream server.
func (p *Pump) recordBlocked(ctx context.Context, call mcp.ToolCallParams, denied *RuleDeniedError) {
	entry := audit.Entry{
		Timestamp:   time.Now().UTC(),
		ServerName:  p.serverName,
		ToolName:    call.Name,
		ToolArgs:    audit.RedactArgs(call.Arguments),
		Blocked:     true,
		BlockReason: denied.Reason,
	}
	if _, err := p.auditStore.Append(ctx, entry); err != nil {
		p.logger.Error("failed to append audit entry", "tool", call.Name, "error", err)
		if p.metrics != nil {
			p.metrics.AuditAppendErrors.Inc()
		}
	}
	if p.metrics != nil {
		p.metrics.CallsTotal.WithLabelValues(p.serverName, call.Name, "denied").Inc()
	}
}

// writeDenial synthesizes a JSON-RPC error response for a denied call
// and writes it to the client.
func (p *Pump) writeDenial(clientOut io.Writer, id json.RawMessage, denied *RuleDeniedError) error {
	resp := wireError{
		JSONRPC: "2.0",
		ID:      id,
		Error: &wireErrorBody{
			Code:    deniedErrorCode,
			Message: denied.Reason,
			Data:    wireErrorData{BlockedBy: blockedByField, RuleID: denied.RuleID},
		},
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal denial response: %w", err)
	}
	return mcp.WriteFrame(clientOut, raw)
}

// wireError is the minimal JSON-RPC 2.0 error envelope the pump
// synthesizes for a denied call. It is constructed directly rather than
// through jsonrpc.Response because the SDK type's ID does not marshal
// correctly through an interface{} field, and raw id bytes must be
// preserved verbatim.
type wireError struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *wireErrorBody  `json:"error"`
}

type wireErrorBody struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    wireErrorData `json:"data"`
}

type wireErrorData struct {
	BlockedBy string `json:"blocked_by"`
	RuleID    string `json:"rule_id"`
}

// rawResult returns the raw result bytes of a response, or nil if resp
// is nil or carries an error instead of a result.
func rawResult(resp *jsonrpc.Response) json.RawMessage {
	if resp == nil {
		return nil
	}
	return resp.Result
}
