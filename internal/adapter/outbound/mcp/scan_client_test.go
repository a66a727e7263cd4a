package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mcpguard/mcpguard/internal/domain/mcperr"
	"github.com/mcpguard/mcpguard/internal/domain/scan"
)

// fakeServerScript is a shell one-liner that answers initialize and
// tools/list, rejects resources/list with "method not found", and
// ignores the notifications/initialized notification (no id, no reply).
const fakeServerScript = `
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-06-18"}}'
      ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"read_file","description":"reads a file","inputSchema":{}}]}}'
      ;;
    *'"method":"resources/list"'*)
      echo '{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}'
      ;;
  esac
done
`

func newFakeScanClient(t *testing.T) *ScanClient {
	t.Helper()
	spec := scan.ServerSpec{Name: "fake", Command: "sh", Args: []string{"-c", fakeServerScript}}
	return NewScanClient(spec, ScanClientConfig{CallTimeout: 2 * time.Second})
}

func TestScanClient_ConnectListToolsToleratesMissingResources(t *testing.T) {
	c := newFakeScanClient(t)
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "read_file" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	resources, err := c.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources() should tolerate method-not-found, got error: %v", err)
	}
	if resources != nil {
		t.Errorf("expected a nil/empty resource list, got %+v", resources)
	}
}

func TestScanClient_ConnectTimesOutAgainstSilentServer(t *testing.T) {
	spec := scan.ServerSpec{Name: "silent", Command: "cat"}
	c := NewScanClient(spec, ScanClientConfig{CallTimeout: 100 * time.Millisecond})
	defer c.Close()

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect() to fail against a server that never replies")
	}
	var timeoutErr *mcperr.TimeoutError
	var transportErr *mcperr.TransportError
	isTimeout := castAs(err, &timeoutErr)
	isTransport := castAs(err, &transportErr)
	if !isTimeout && !isTransport {
		t.Fatalf("expected a TimeoutError or TransportError, got %T: %v", err, err)
	}
}

func castAs[T error](err error, target *T) bool {
	if e, ok := err.(T); ok {
		*target = e
		return true
	}
	return false
}
