// Package outbound defines the outbound port interfaces for connecting
// to upstream MCP servers.
package outbound

import (
	"context"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
)

// ScanClient is the outbound port used by the scanner to perform the
// MCP handshake against one server and enumerate its tools and
// resources.
type ScanClient interface {
	// Connect spawns the server, performs the initialize handshake, and
	// sends notifications/initialized.
	Connect(ctx context.Context) error

	// ListTools calls tools/list. A "method not found" response is
	// tolerated and treated as an empty list.
	ListTools(ctx context.Context) ([]scan.ToolInfo, error)

	// ListResources calls resources/list. A "method not found" response
	// is tolerated and treated as an empty list.
	ListResources(ctx context.Context) ([]scan.ResourceInfo, error)

	// Close terminates the child and releases resources.
	Close() error
}
