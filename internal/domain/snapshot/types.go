// Package snapshot contains the Snapshot type and the file-per-server
// store the description-drift detector reads and writes.
package snapshot

import "time"

// ToolDigests is the pair of digests recorded for one tool at capture time.
type ToolDigests struct {
	DescriptionDigest string `json:"description_digest"`
	SchemaDigest      string `json:"schema_digest"`
}

// Snapshot is the persisted tool-surface fingerprint for one
// (client_origin, name) server identity.
type Snapshot struct {
	CapturedAt time.Time              `json:"captured_at"`
	Tools      map[string]ToolDigests `json:"tools"`
}
