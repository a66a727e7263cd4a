package rule

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEngine_NoRulesAllows(t *testing.T) {
	e := NewEngine(nil, nil)
	d, err := e.Evaluate("fs-server", "read_file", nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected Allow with no rules")
	}
}

func TestEngine_BlockRule(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindBlock, Pattern: "delete_*", Priority: 0, Enabled: true, Reason: "destructive"},
	}, nil)

	d, err := e.Evaluate("fs-server", "delete_index", nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected Deny")
	}
	if d.RuleID != "r1" || d.Reason != "destructive" {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestEngine_DisabledRuleNeverMatches(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindBlock, Pattern: "delete_*", Priority: 0, Enabled: false, Reason: "destructive"},
	}, nil)

	d, err := e.Evaluate("fs-server", "delete_index", nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("disabled rule must not match")
	}
}

func TestEngine_ScopeGlobRestrictsByServer(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindBlock, Pattern: "*", Scope: "prod-*", Priority: 0, Enabled: true, Reason: "locked down"},
	}, nil)

	d, err := e.Evaluate("dev-server", "anything", nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("rule scoped to prod-* must not match dev-server")
	}

	d, err = e.Evaluate("prod-db", "anything", nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Allowed {
		t.Fatal("rule scoped to prod-* must match prod-db")
	}
}

func TestEngine_FirstMatchByPriorityWins(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "low-priority-allow", Kind: KindBlock, Pattern: "never_matches", Priority: 10, Enabled: true},
		{ID: "high-priority-block", Kind: KindBlock, Pattern: "send_*", Priority: 0, Enabled: true, Reason: "blocked first"},
		{ID: "also-matches", Kind: KindBlock, Pattern: "send_email", Priority: 5, Enabled: true, Reason: "should not win"},
	}, nil)

	d, err := e.Evaluate("mail-server", "send_email", nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.RuleID != "high-priority-block" {
		t.Errorf("expected priority-0 rule to win, got %q", d.RuleID)
	}
}

func TestEngine_RateLimit_AllowsThenDeniesThenAllowsAfterWindow(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindRateLimit, Pattern: "send_email", Priority: 0, Enabled: true, Reason: "too many emails", MaxCalls: 2, WindowSeconds: 60},
	}, nil)

	start := time.Unix(1700000000, 0)
	e.clock = func() time.Time { return start }

	d1, _ := e.Evaluate("mail-server", "send_email", nil)
	if !d1.Allowed {
		t.Fatal("first call should be allowed")
	}

	e.clock = func() time.Time { return start.Add(5 * time.Second) }
	d2, _ := e.Evaluate("mail-server", "send_email", nil)
	if !d2.Allowed {
		t.Fatal("second call should be allowed")
	}

	e.clock = func() time.Time { return start.Add(10 * time.Second) }
	d3, _ := e.Evaluate("mail-server", "send_email", nil)
	if d3.Allowed {
		t.Fatal("third call within window should be denied")
	}
	if d3.Reason != "rate limited: too many emails" {
		t.Errorf("unexpected reason: %q", d3.Reason)
	}

	e.clock = func() time.Time { return start.Add(61 * time.Second) }
	d4, _ := e.Evaluate("mail-server", "send_email", nil)
	if !d4.Allowed {
		t.Fatal("call strictly after 60s should be allowed again")
	}
}

func TestEngine_RateLimitPartitionedByServerAndTool(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindRateLimit, Pattern: "send_email", Priority: 0, Enabled: true, MaxCalls: 1, WindowSeconds: 60},
	}, nil)

	start := time.Unix(1700000000, 0)
	e.clock = func() time.Time { return start }

	d, _ := e.Evaluate("mail-server-a", "send_email", nil)
	if !d.Allowed {
		t.Fatal("first call on server A should be allowed")
	}
	d, _ = e.Evaluate("mail-server-b", "send_email", nil)
	if !d.Allowed {
		t.Fatal("first call on server B should be allowed independently of A's counter")
	}
	d, _ = e.Evaluate("mail-server-a", "send_email", nil)
	if d.Allowed {
		t.Fatal("second call on server A within window should be denied")
	}
}

func TestEngine_ConditionNarrowsMatch(t *testing.T) {
	cond := &fakeConditionEvaluator{allow: false}
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindBlock, Pattern: "*", Priority: 0, Enabled: true, Condition: `args["force"] == true`},
	}, cond)

	d, err := e.Evaluate("fs-server", "delete_index", json.RawMessage(`{"force":false}`))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("condition returning false should skip the rule")
	}

	cond.allow = true
	d, err = e.Evaluate("fs-server", "delete_index", json.RawMessage(`{"force":true}`))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Allowed {
		t.Fatal("condition returning true should let the Block rule match")
	}
}

func TestEngine_ConditionWithoutEvaluatorConfiguredErrors(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindBlock, Pattern: "*", Priority: 0, Enabled: true, Condition: "true"},
	}, nil)

	_, err := e.Evaluate("fs-server", "delete_index", nil)
	if err == nil {
		t.Fatal("expected an error when a rule has a Condition but no evaluator is configured")
	}
}

func TestEngine_SetRules_EditingRateLimitClearsPartition(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Kind: KindRateLimit, Pattern: "send_email", Priority: 0, Enabled: true, MaxCalls: 1, WindowSeconds: 60},
	}, nil)

	start := time.Unix(1700000000, 0)
	e.clock = func() time.Time { return start }

	d, _ := e.Evaluate("mail-server", "send_email", nil)
	if !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	d, _ = e.Evaluate("mail-server", "send_email", nil)
	if d.Allowed {
		t.Fatal("second call within window should be denied")
	}

	e.SetRules([]Rule{
		{ID: "r1", Kind: KindRateLimit, Pattern: "send_email", Priority: 0, Enabled: true, MaxCalls: 2, WindowSeconds: 60},
	})

	d, _ = e.Evaluate("mail-server", "send_email", nil)
	if !d.Allowed {
		t.Fatal("editing max_calls should clear the partition and allow again")
	}
}

type fakeConditionEvaluator struct {
	allow bool
}

func (f *fakeConditionEvaluator) Eval(condition, tool, server string, args json.RawMessage) (bool, error) {
	return f.allow, nil
}
