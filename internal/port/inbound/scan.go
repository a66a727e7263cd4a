package inbound

import (
	"context"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

// ScanService is the inbound port for the scan core. The CLI's scan
// command calls this interface.
type ScanService interface {
	// Scan runs the detector framework against every spec and returns the
	// assembled report. A per-server failure is captured on its
	// ScanResult.Error and never aborts the rest of the batch.
	Scan(ctx context.Context, specs []scan.ServerSpec) (threat.Report, error)
}
