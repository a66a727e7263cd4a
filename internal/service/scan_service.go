// Package service wires domain logic to the outbound ports, implementing
// the inbound ports adapters call.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpguard/mcpguard/internal/domain/detect"
	"github.com/mcpguard/mcpguard/internal/domain/mcperr"
	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
	"github.com/mcpguard/mcpguard/internal/observability"
	"github.com/mcpguard/mcpguard/internal/port/inbound"
	"github.com/mcpguard/mcpguard/internal/port/outbound"
)

// DefaultConcurrency is the number of servers scanned in parallel when the
// caller does not configure one.
const DefaultConcurrency = 4

// DefaultServerTimeout bounds one server's entire scan (connect, handshake,
// tools/list, resources/list).
const DefaultServerTimeout = 30 * time.Second

// ScanClientFactory creates an outbound.ScanClient for one server spec. It
// exists so tests can substitute a fake client without spawning a process.
type ScanClientFactory func(spec scan.ServerSpec) outbound.ScanClient

// ScanOrchestrator implements inbound.ScanService: it drives the detector
// framework against a batch of servers with bounded concurrency and a
// per-server timeout, then runs the cross-server shadowing pass.
type ScanOrchestrator struct {
	clientFactory ScanClientFactory
	framework     *detect.Framework
	concurrency   int
	serverTimeout time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// SetMetrics attaches a Metrics instance the orchestrator records scan
// durations and threat counts to. A nil metrics disables recording.
func (o *ScanOrchestrator) SetMetrics(metrics *observability.Metrics) {
	o.metrics = metrics
}

// NewScanOrchestrator builds a ScanOrchestrator. A concurrency of 0 falls
// back to DefaultConcurrency; a zero serverTimeout falls back to
// DefaultServerTimeout.
func NewScanOrchestrator(clientFactory ScanClientFactory, framework *detect.Framework, concurrency int, serverTimeout time.Duration, logger *slog.Logger) *ScanOrchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if serverTimeout <= 0 {
		serverTimeout = DefaultServerTimeout
	}
	return &ScanOrchestrator{
		clientFactory: clientFactory,
		framework:     framework,
		concurrency:   concurrency,
		serverTimeout: serverTimeout,
		logger:        logger,
	}
}

// Scan runs the detector framework against every spec and returns the
// assembled report with the cross-server shadowing pass applied.
func (o *ScanOrchestrator) Scan(ctx context.Context, specs []scan.ServerSpec) (threat.Report, error) {
	results := make([]threat.ScanResult, len(specs))
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec scan.ServerSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.scanOne(ctx, spec)
		}(i, spec)
	}
	wg.Wait()

	shadows := detect.CrossServerShadowing(results)
	for i := range results {
		if results[i].Error != "" {
			continue
		}
		results[i].Threats = threat.Dedup(append(results[i].Threats, shadows[i]...))
	}

	return threat.Report{Results: results}, nil
}

func (o *ScanOrchestrator) scanOne(ctx context.Context, spec scan.ServerSpec) threat.ScanResult {
	started := time.Now()
	result := threat.ScanResult{Server: spec}

	ctx, span := observability.ScanServerSpan(ctx, spec.Name)
	defer func() {
		observability.RecordScanOutcome(span, len(result.Threats), time.Since(started))
		span.End()
		if o.metrics != nil {
			o.metrics.ScanDuration.WithLabelValues(spec.Name).Observe(time.Since(started).Seconds())
			for _, th := range result.Threats {
				o.metrics.ScanThreatsTotal.WithLabelValues(string(th.Category), th.Severity.String()).Inc()
			}
		}
	}()

	if err := spec.Validate(); err != nil {
		observability.RecordError(span, err)
		result.Error = err.Error()
		result.ElapsedMS = time.Since(started).Milliseconds()
		return result
	}

	if spec.TransportKind == scan.TransportHTTPSSE {
		err := &mcperr.TransportError{Server: spec.Name, Err: errors.New("http_sse transport is not supported")}
		observability.RecordError(span, err)
		result.Error = err.Error()
		result.ElapsedMS = time.Since(started).Milliseconds()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, o.serverTimeout)
	defer cancel()

	client := o.clientFactory(spec)
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		o.logger.Warn("scan connect failed", "server", spec.Name, "error", err)
		observability.RecordError(span, err)
		result.Error = err.Error()
		result.ElapsedMS = time.Since(started).Milliseconds()
		return result
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		o.logger.Warn("scan tools/list failed", "server", spec.Name, "error", err)
		observability.RecordError(span, err)
		result.Error = err.Error()
		result.ElapsedMS = time.Since(started).Milliseconds()
		return result
	}

	resources, err := client.ListResources(ctx)
	if err != nil {
		o.logger.Warn("scan resources/list failed", "server", spec.Name, "error", err)
		observability.RecordError(span, err)
		result.Error = err.Error()
		result.ElapsedMS = time.Since(started).Milliseconds()
		return result
	}

	threats, err := o.framework.Run(spec, tools, resources)
	if err != nil {
		o.logger.Warn("detector framework reported an error", "server", spec.Name, "error", err)
	}

	result.Tools = tools
	result.Resources = resources
	result.Threats = threats
	result.ElapsedMS = time.Since(started).Milliseconds()
	return result
}

// Compile-time check that ScanOrchestrator implements inbound.ScanService.
var _ inbound.ScanService = (*ScanOrchestrator)(nil)
