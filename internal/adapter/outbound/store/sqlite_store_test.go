package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpguard/mcpguard/internal/domain/audit"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_AppendAndQueryRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := audit.Entry{
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		ServerName: "filesystem",
		ToolName:   "read_file",
		ToolArgs:   json.RawMessage(`{"path":"/tmp/x"}`),
		Result:     json.RawMessage(`{"ok":true}`),
		DurationMS: 12,
	}

	stored, err := s.Append(ctx, entry)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if stored.ID == 0 {
		t.Error("expected a non-zero assigned ID")
	}

	got, err := s.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].ToolName != "read_file" || got[0].ServerName != "filesystem" {
		t.Errorf("unexpected entry: %+v", got[0])
	}
	if string(got[0].ToolArgs) != `{"path":"/tmp/x"}` {
		t.Errorf("ToolArgs roundtrip mismatch: %s", got[0].ToolArgs)
	}
	if !got[0].Timestamp.Equal(entry.Timestamp) {
		t.Errorf("Timestamp roundtrip mismatch: got %v, want %v", got[0].Timestamp, entry.Timestamp)
	}
}

func TestSQLiteStore_QueryFiltersAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blocked := true
	seed := []audit.Entry{
		{ServerName: "fs", ToolName: "read_file", Timestamp: time.Now().UTC()},
		{ServerName: "fs", ToolName: "delete_file", Timestamp: time.Now().UTC(), Blocked: true, BlockReason: "no-delete"},
		{ServerName: "db", ToolName: "read_file", Timestamp: time.Now().UTC()},
	}
	for _, e := range seed {
		if _, err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	got, err := s.Query(ctx, audit.Filter{ServerName: "fs"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for server fs, got %d", len(got))
	}
	// newest first
	if got[0].ToolName != "delete_file" {
		t.Errorf("expected newest first, got %+v", got[0])
	}

	got, err = s.Query(ctx, audit.Filter{Blocked: &blocked})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 || got[0].BlockReason != "no-delete" {
		t.Fatalf("expected single blocked entry, got %+v", got)
	}
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	if _, err := s1.Append(context.Background(), audit.Entry{ServerName: "fs", ToolName: "read_file"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() against existing file error: %v", err)
	}
	defer s2.Close()

	got, err := s2.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected data to survive reopen, got %d entries", len(got))
	}
}
