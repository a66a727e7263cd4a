package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/metric"

	"github.com/mcpguard/mcpguard/internal/domain/audit"
	"github.com/mcpguard/mcpguard/internal/domain/proxy"
	"github.com/mcpguard/mcpguard/internal/domain/rule"
	"github.com/mcpguard/mcpguard/internal/observability"
	"github.com/mcpguard/mcpguard/internal/port/inbound"
	"github.com/mcpguard/mcpguard/internal/port/outbound"
)

// ProxyOrchestrator wires one upstream MCP server connection to a Pump
// that enforces a rule.Engine and persists completed calls to an
// audit.Store. It implements inbound.ProxyService; inbound transport
// adapters (stdio, and eventually HTTP/SSE) drive it with their own
// client-side reader/writer pair.
type ProxyOrchestrator struct {
	serverName string
	upstream   outbound.MCPClient
	engine     *rule.Engine
	auditStore audit.Store
	logger     *slog.Logger

	interceptor  *proxy.RuleInterceptor
	pump         *proxy.Pump
	sessionGauge metric.Int64UpDownCounter
}

// NewProxyOrchestrator creates an orchestrator for one upstream server.
// engine may carry zero rules (everything passes through); auditStore
// must not be nil.
func NewProxyOrchestrator(serverName string, upstream outbound.MCPClient, engine *rule.Engine, auditStore audit.Store, logger *slog.Logger) *ProxyOrchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	interceptor := proxy.NewRuleInterceptor(engine, serverName, proxy.NewPassthroughInterceptor(), logger)
	return &ProxyOrchestrator{
		serverName:  serverName,
		upstream:    upstream,
		engine:      engine,
		auditStore:  auditStore,
		logger:      logger,
		interceptor: interceptor,
		pump:        proxy.NewPump(serverName, interceptor, auditStore, logger),
	}
}

// SetMetrics attaches a Metrics instance to both the pump and the rule
// interceptor. Call before Run; a nil metrics disables recording.
func (o *ProxyOrchestrator) SetMetrics(metrics *observability.Metrics) {
	o.pump.SetMetrics(metrics)
	o.interceptor.SetMetrics(metrics)
}

// SetMeter attaches an OpenTelemetry meter the orchestrator uses to track
// the active-session gauge for the lifetime of Run. Call before Run.
func (o *ProxyOrchestrator) SetMeter(meter metric.Meter) error {
	gauge, err := meter.Int64UpDownCounter(
		"mcpguard.proxy.active_sessions",
		metric.WithDescription("Number of proxy sessions currently pumping traffic to an upstream server"),
	)
	if err != nil {
		return fmt.Errorf("create active_sessions instrument: %w", err)
	}
	o.sessionGauge = gauge
	return nil
}

// Run starts the upstream server and pumps clientIn/clientOut against it
// until either side reaches EOF or ctx is cancelled. It blocks for the
// lifetime of the connection.
func (o *ProxyOrchestrator) Run(ctx context.Context, clientIn io.Reader, clientOut io.Writer) error {
	serverIn, serverOut, err := o.upstream.Start(ctx)
	if err != nil {
		return fmt.Errorf("start upstream %q: %w", o.serverName, err)
	}
	defer func() {
		if err := o.upstream.Close(); err != nil {
			o.logger.Warn("upstream close failed", "server", o.serverName, "error", err)
		}
	}()

	if o.sessionGauge != nil {
		o.sessionGauge.Add(ctx, 1)
		defer o.sessionGauge.Add(ctx, -1)
	}

	o.logger.Info("proxy session started", "server", o.serverName)
	err = o.pump.Run(ctx, clientIn, clientOut, serverIn, serverOut)
	o.logger.Info("proxy session ended", "server", o.serverName, "error", err)
	return err
}

// Start implements inbound.ProxyService by proxying stdin/stdout. Most
// callers construct a ProxyOrchestrator directly and call Run with an
// explicit client pipe instead; Start exists so ProxyOrchestrator alone
// can satisfy the port for single-server stdio deployments.
func (o *ProxyOrchestrator) Start(ctx context.Context) error {
	return o.Run(ctx, os.Stdin, os.Stdout)
}

// Close shuts down the upstream connection and the audit store.
func (o *ProxyOrchestrator) Close() error {
	upstreamErr := o.upstream.Close()
	auditErr := o.auditStore.Close()
	if upstreamErr != nil {
		return upstreamErr
	}
	return auditErr
}

var _ inbound.ProxyService = (*ProxyOrchestrator)(nil)
