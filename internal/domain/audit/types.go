// Package audit contains the AuditEntry type persisted by the proxy pump
// and the port it is written and queried through.
package audit

import (
	"encoding/json"
	"strings"
	"time"
)

// ResultTruncateLimit is the byte limit at which a response result body
// is truncated before being stored in an AuditEntry (the resolved open
// question on auditing the full response body with a truncated flag).
const ResultTruncateLimit = 64 * 1024

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactArgs returns tool-call arguments with sensitive top-level keys
// masked. Non-object input is returned unchanged.
func RedactArgs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return raw
	}
	changed := false
	for k := range args {
		if isSensitiveKey(k) {
			args[k] = json.RawMessage(`"***REDACTED***"`)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	out, err := json.Marshal(args)
	if err != nil {
		return raw
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Entry is a single auditable record of one tools/call invocation
// observed by the proxy pump.
type Entry struct {
	// ID is monotonically increasing per process lifetime.
	ID int64 `json:"id"`
	// Timestamp is UTC, millisecond precision.
	Timestamp time.Time `json:"timestamp"`
	// ServerName is the proxied server's identity.
	ServerName string `json:"server_name"`
	// ToolName is the invoked tool.
	ToolName string `json:"tool_name"`
	// ToolArgs is the tool call's arguments, sensitive keys redacted.
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`
	// Result is the response body, truncated at ResultTruncateLimit.
	// Unset for blocked calls.
	Result json.RawMessage `json:"result,omitempty"`
	// Truncated is true when Result was cut short of the full body.
	Truncated bool `json:"truncated"`
	// Blocked is true if the rule engine denied this call.
	Blocked bool `json:"blocked"`
	// BlockReason explains a Blocked=true entry; empty otherwise.
	BlockReason string `json:"block_reason,omitempty"`
	// DurationMS is measured only for un-blocked calls.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// TruncateResult caps raw at ResultTruncateLimit bytes, reporting whether
// truncation occurred.
func TruncateResult(raw json.RawMessage) (json.RawMessage, bool) {
	if len(raw) <= ResultTruncateLimit {
		return raw, false
	}
	out := make(json.RawMessage, ResultTruncateLimit)
	copy(out, raw[:ResultTruncateLimit])
	return out, true
}
