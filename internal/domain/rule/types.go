// Package rule contains the Rule type and the Engine that evaluates
// ordered block/rate-limit rules against a (server, tool) pair.
package rule

import "fmt"

// Kind is the closed set of rule actions.
type Kind string

const (
	KindBlock     Kind = "block"
	KindRateLimit Kind = "rate_limit"
)

// Rule is a user-configured predicate plus action applied to incoming
// tools/call requests at the proxy. Rules are evaluated in ascending
// Priority order; the first match decides the outcome.
type Rule struct {
	// ID is a version-4 UUID, unique across the rule set.
	ID string
	// Kind selects Block or RateLimit behavior.
	Kind Kind
	// Pattern is a left-to-right glob over the tool name, anchored at
	// both ends. '*' matches zero or more characters, '?' matches one.
	Pattern string
	// Scope is an optional server-name glob; "" is treated as "*".
	Scope string
	// Priority orders evaluation ascending; ties break by insertion order.
	Priority int
	// Enabled rules alone are considered; disabled rules never match.
	Enabled bool
	// Reason is surfaced in the synthesized deny response and audit entry.
	Reason string
	// Condition is an optional CEL boolean expression over {tool, server,
	// args}, evaluated only after Pattern and Scope already match, further
	// narrowing which invocations this rule applies to.
	Condition string

	// MaxCalls is the call budget per window for KindRateLimit rules.
	MaxCalls int
	// WindowSeconds is the sliding window width for KindRateLimit rules.
	WindowSeconds int
}

// Validate reports a non-nil error when the rule cannot be evaluated.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: id is required")
	}
	if r.Kind != KindBlock && r.Kind != KindRateLimit {
		return fmt.Errorf("rule %s: kind %q is not Block or RateLimit", r.ID, r.Kind)
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule %s: pattern is required", r.ID)
	}
	if r.Kind == KindRateLimit {
		if r.MaxCalls <= 0 {
			return fmt.Errorf("rule %s: max_calls must be positive", r.ID)
		}
		if r.WindowSeconds <= 0 {
			return fmt.Errorf("rule %s: window_seconds must be positive", r.ID)
		}
	}
	return nil
}

// scope returns the rule's effective scope glob, defaulting to "*".
func (r Rule) scope() string {
	if r.Scope == "" {
		return "*"
	}
	return r.Scope
}

// Decision is the outcome of evaluating a rule set against one call.
type Decision struct {
	// Allowed is false when a Block rule or an exhausted RateLimit rule matched.
	Allowed bool
	// Reason explains a denial; empty when Allowed.
	Reason string
	// RuleID names the rule that produced the decision; empty when no
	// rule matched (the implicit Allow).
	RuleID string
}

// Allow is the zero-rule-matched outcome.
var Allow = Decision{Allowed: true}

// Deny builds a denial decision attributed to ruleID.
func Deny(ruleID, reason string) Decision {
	return Decision{Allowed: false, Reason: reason, RuleID: ruleID}
}
