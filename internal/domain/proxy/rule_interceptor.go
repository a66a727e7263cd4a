// Package proxy contains the core domain logic for the MCP proxy.
package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcpguard/mcpguard/internal/domain/rule"
	"github.com/mcpguard/mcpguard/internal/observability"
	"github.com/mcpguard/mcpguard/pkg/mcp"
)

// RuleDeniedError is returned when the rule engine denies a tools/call
// invocation. Callers use errors.As to recover the rule ID and reason
// for the synthesized JSON-RPC error response.
type RuleDeniedError struct {
	RuleID string
	Reason string
}

func (e *RuleDeniedError) Error() string {
	return fmt.Sprintf("blocked by rule %s: %s", e.RuleID, e.Reason)
}

// RuleInterceptor evaluates tools/call requests against a rule engine
// and denies those that match a block or exhausted rate-limit rule.
// Non-tool-call messages and server-to-client traffic pass through
// unchanged.
//
// A rule-engine evaluation error is treated as an allow, matching the
// fail-open posture a misconfigured or unreachable condition evaluator
// should not take down the proxied connection. The error is logged at
// warn level.
type RuleInterceptor struct {
	engine     *rule.Engine
	serverName string
	next       MessageInterceptor
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewRuleInterceptor creates a new RuleInterceptor. serverName identifies
// the proxied upstream for rule scope matching.
func NewRuleInterceptor(engine *rule.Engine, serverName string, next MessageInterceptor, logger *slog.Logger) *RuleInterceptor {
	return &RuleInterceptor{engine: engine, serverName: serverName, next: next, logger: logger}
}

// SetMetrics attaches a Metrics instance the interceptor records rule
// evaluation outcomes to. A nil metrics (the default) disables recording.
func (r *RuleInterceptor) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

// Intercept denies tools/call requests blocked or rate-limited by the
// rule engine, then passes everything else to the next interceptor. A
// tools/call whose params do not parse into a name/arguments pair is
// denied outright rather than forwarded — an unparseable call never
// reaches the rule engine, so it cannot be allowed to bypass it.
func (r *RuleInterceptor) Intercept(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	if msg.Direction != mcp.ClientToServer || !msg.IsToolCall() {
		return r.next.Intercept(ctx, msg)
	}

	call, ok := msg.ToolCall()
	if !ok {
		r.logger.Warn("tools/call params did not parse, denying")
		return nil, &RuleDeniedError{RuleID: "", Reason: "malformed tools/call params"}
	}

	ctx, span := observability.CallSpan(ctx, r.serverName, call.Name)
	defer span.End()

	decision, err := r.engine.Evaluate(r.serverName, call.Name, call.Arguments)
	if err != nil {
		r.logger.Warn("rule engine evaluation failed, allowing call",
			"tool", call.Name,
			"error", err,
		)
		observability.RecordError(span, err)
		return r.next.Intercept(ctx, msg)
	}

	observability.RecordRuleDecision(span, decision.Allowed, decision.RuleID, decision.Reason)
	if r.metrics != nil {
		r.metrics.RuleEvaluations.WithLabelValues(decisionLabel(decision)).Inc()
	}

	if !decision.Allowed {
		r.logger.Warn("tools/call denied",
			"tool", call.Name,
			"rule_id", decision.RuleID,
			"reason", decision.Reason,
		)
		return nil, &RuleDeniedError{RuleID: decision.RuleID, Reason: decision.Reason}
	}

	return r.next.Intercept(ctx, msg)
}

// decisionLabel maps a rule.Decision to the metric label recorded for it.
func decisionLabel(d rule.Decision) string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}

// Compile-time check that RuleInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*RuleInterceptor)(nil)
