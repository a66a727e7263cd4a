package audit

import "context"

// Filter specifies query parameters for audit log queries. Every field
// beyond Limit/Offset is optional and ANDed together.
type Filter struct {
	// ServerName filters by proxied server identity (optional).
	ServerName string
	// ToolName filters by invoked tool (optional).
	ToolName string
	// Blocked filters by block status when non-nil.
	Blocked *bool
	// Limit caps the number of records returned (default 100).
	Limit int
	// Offset skips this many matching records before collecting Limit.
	Offset int
}

// Store persists and queries Entry records for the proxy pump. Writes are
// single-statement and never span a transaction across requests; Query
// results are ordered by ID descending (newest first).
type Store interface {
	// Append assigns the next ID and persists entry. The entry's
	// Timestamp is stored as the caller set it.
	Append(ctx context.Context, entry Entry) (Entry, error)

	// Query returns entries matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// Close releases resources held by the store.
	Close() error
}
