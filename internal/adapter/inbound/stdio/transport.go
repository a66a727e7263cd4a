// Package stdio provides the stdio transport adapter for the proxy.
package stdio

import (
	"context"
	"os"

	"github.com/mcpguard/mcpguard/internal/port/inbound"
	"github.com/mcpguard/mcpguard/internal/service"
)

// StdioTransport is the inbound adapter that connects the proxy to
// stdin/stdout. It implements the inbound.ProxyService interface.
type StdioTransport struct {
	orchestrator *service.ProxyOrchestrator
}

// NewStdioTransport creates a stdio transport adapter wrapping the given
// proxy orchestrator.
func NewStdioTransport(orchestrator *service.ProxyOrchestrator) *StdioTransport {
	return &StdioTransport{orchestrator: orchestrator}
}

// Start begins proxying between stdin/stdout and the upstream server.
// It blocks until the context is cancelled or an error occurs.
func (t *StdioTransport) Start(ctx context.Context) error {
	return t.orchestrator.Run(ctx, os.Stdin, os.Stdout)
}

// Close gracefully shuts down the transport and the upstream connection.
func (t *StdioTransport) Close() error {
	return t.orchestrator.Close()
}

// Compile-time check that StdioTransport implements ProxyService interface.
var _ inbound.ProxyService = (*StdioTransport)(nil)
