// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/mcpguard/mcpguard/internal/domain/audit"
)

const defaultCapacity = 1000

// AuditStore implements audit.Store as a bounded in-memory ring buffer,
// optionally echoing every appended entry as a JSON line to a writer.
// It is the store the proxy command uses when audit.store_path is not
// configured.
type AuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
	nextID  int64
	cap     int
	encoder *json.Encoder
	writer  io.Writer
}

// NewAuditStore creates an AuditStore that also writes each entry as a
// JSON line to w. Pass io.Discard for a pure in-memory store.
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &AuditStore{
		entries: make([]audit.Entry, 0, capacity),
		cap:     capacity,
		encoder: json.NewEncoder(w),
		writer:  w,
	}
}

// Append assigns entry a new ID and timestamp-ordered position, writes
// it to the configured writer, and retains it in the ring buffer.
func (s *AuditStore) Append(_ context.Context, entry audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID

	if err := s.encoder.Encode(entry); err != nil {
		return audit.Entry{}, err
	}

	if len(s.entries) >= s.cap {
		copy(s.entries, s.entries[1:])
		s.entries[len(s.entries)-1] = entry
	} else {
		s.entries = append(s.entries, entry)
	}
	return entry, nil
}

// Query returns entries matching filter, newest (highest ID) first,
// applying Limit/Offset pagination after filtering.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var matched []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.ServerName != "" && e.ServerName != filter.ServerName {
			continue
		}
		if filter.ToolName != "" && e.ToolName != filter.ToolName {
			continue
		}
		if filter.Blocked != nil && e.Blocked != *filter.Blocked {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	end := filter.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

// Close releases resources. If the writer is an *os.File other than
// stdout/stderr, it is closed.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Compile-time check that AuditStore implements audit.Store.
var _ audit.Store = (*AuditStore)(nil)
