package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the OpenTelemetry tracer name mcpguard registers spans under.
const TracerName = "mcpguard"

// CallSpan starts a span for one proxied tools/call. The rule interceptor
// opens it and ends it when its rule evaluation returns, so the span
// covers the rule decision only, not the upstream round trip or the
// write of the response or denial to the client.
func CallSpan(ctx context.Context, server, tool string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "proxy.tools_call",
		trace.WithAttributes(
			attribute.String("mcp.server", server),
			attribute.String("mcp.tool", tool),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// RecordRuleDecision annotates a call span with the rule engine's outcome.
func RecordRuleDecision(span trace.Span, allowed bool, ruleID, reason string) {
	span.SetAttributes(
		attribute.Bool("mcp.rule.allowed", allowed),
		attribute.String("mcp.rule.id", ruleID),
	)
	if !allowed {
		span.SetAttributes(attribute.String("mcp.rule.reason", reason))
		span.SetStatus(codes.Error, "denied by rule")
	}
}

// RecordError records err on span and marks the span's status accordingly.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ScanServerSpan starts a span covering one server's scan: connect,
// handshake, tools/list, resources/list, and the detector pass.
func ScanServerSpan(ctx context.Context, server string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "scan.server",
		trace.WithAttributes(attribute.String("mcp.server", server)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// RecordScanOutcome annotates a scan span with the number of threats found
// and how long the scan took.
func RecordScanOutcome(span trace.Span, threatCount int, elapsed time.Duration) {
	span.SetAttributes(
		attribute.Int("mcp.scan.threats", threatCount),
		attribute.Int64("mcp.scan.duration_ms", elapsed.Milliseconds()),
	)
}
