package rule

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ConditionEvaluator evaluates a rule's optional CEL Condition against
// one invocation. Implementations compile and cache programs internally;
// the engine only calls this after Pattern and Scope already matched.
type ConditionEvaluator interface {
	Eval(condition, tool, server string, args json.RawMessage) (bool, error)
}

// Engine evaluates an ordered rule set against incoming tools/call
// invocations, maintaining per-rule sliding-window counters.
type Engine struct {
	mu    sync.Mutex
	rules []Rule
	// windows partitions sliding-window counters by rule ID, then by the
	// concrete "server\x00tool" pair the rule matched against.
	windows map[string]map[string]*slidingWindow
	clock   func() time.Time
	cond    ConditionEvaluator
}

// NewEngine constructs an Engine over rules, sorted ascending by
// Priority (stable: ties keep rules' relative input order). cond may be
// nil when no rule uses Condition.
func NewEngine(rules []Rule, cond ConditionEvaluator) *Engine {
	e := &Engine{
		windows: make(map[string]map[string]*slidingWindow),
		clock:   time.Now,
		cond:    cond,
	}
	e.rules = sortedByPriority(rules)
	return e
}

func sortedByPriority(rules []Rule) []Rule {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return sorted
}

// Evaluate decides the outcome for one tools/call invocation. The first
// enabled, in-scope, name-matching rule decides: Block always denies;
// RateLimit denies only once its window is exhausted. No match allows.
func (e *Engine) Evaluate(server, tool string, args json.RawMessage) (Decision, error) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !globMatch(r.scope(), server) {
			continue
		}
		if !globMatch(r.Pattern, tool) {
			continue
		}
		if r.Condition != "" {
			if e.cond == nil {
				return Allow, fmt.Errorf("rule %s: condition set but no evaluator configured", r.ID)
			}
			ok, err := e.cond.Eval(r.Condition, tool, server, args)
			if err != nil {
				return Allow, fmt.Errorf("rule %s: condition: %w", r.ID, err)
			}
			if !ok {
				continue
			}
		}

		switch r.Kind {
		case KindBlock:
			return Deny(r.ID, r.Reason), nil
		case KindRateLimit:
			if e.allowRateLimit(r, server, tool) {
				return Allow, nil
			}
			return Deny(r.ID, fmt.Sprintf("rate limited: %s", r.Reason)), nil
		default:
			return Allow, fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
		}
	}
	return Allow, nil
}

func (e *Engine) allowRateLimit(r Rule, server, tool string) bool {
	partitionKey := server + "\x00" + tool

	e.mu.Lock()
	defer e.mu.Unlock()

	byPartition, ok := e.windows[r.ID]
	if !ok {
		byPartition = make(map[string]*slidingWindow)
		e.windows[r.ID] = byPartition
	}
	w, ok := byPartition[partitionKey]
	if !ok {
		w = &slidingWindow{}
		byPartition[partitionKey] = w
	}
	return w.allow(e.clock(), time.Duration(r.WindowSeconds)*time.Second, r.MaxCalls)
}

// SetRules atomically replaces the rule set. Counters for rule IDs no
// longer present, or whose Pattern/Scope/Kind/MaxCalls/WindowSeconds
// changed, are discarded — editing a rate-limit rule clears its
// partition per the rule set's invariant. Unedited rules keep their
// in-progress windows across a reload.
func (e *Engine) SetRules(rules []Rule) {
	sorted := sortedByPriority(rules)

	byID := make(map[string]Rule, len(sorted))
	for _, r := range sorted {
		byID[r.ID] = r
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, prev := range e.ruleByID() {
		next, ok := byID[id]
		if !ok || ruleChanged(prev, next) {
			delete(e.windows, id)
		}
	}
	e.rules = sorted
}

func (e *Engine) ruleByID() map[string]Rule {
	out := make(map[string]Rule, len(e.rules))
	for _, r := range e.rules {
		out[r.ID] = r
	}
	return out
}

func ruleChanged(a, b Rule) bool {
	return a.Kind != b.Kind || a.Pattern != b.Pattern || a.Scope != b.Scope ||
		a.MaxCalls != b.MaxCalls || a.WindowSeconds != b.WindowSeconds
}
