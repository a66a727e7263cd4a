// Package store provides a sqlite-backed implementation of audit.Store,
// giving the proxy pump a durable audit log beyond process lifetime.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo

	"github.com/mcpguard/mcpguard/internal/domain/audit"
	"github.com/mcpguard/mcpguard/internal/domain/mcperr"
)

const currentSchemaVersion = 1

const auditTableName = "audit_entries"

// SQLiteStore implements audit.Store against a local sqlite database
// file. Each Append runs as a single-statement write; Query runs a
// filtered, paginated SELECT ordered by id descending.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates the database directory if needed, opens (or creates) the
// sqlite file at path, and ensures the audit_entries schema exists.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &mcperr.PersistenceError{Op: "mkdir", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &mcperr.PersistenceError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &mcperr.PersistenceError{Op: "ping", Err: err}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY);`)
	if err != nil {
		return &mcperr.PersistenceError{Op: "migrate:schema_version", Err: err}
	}

	var version int
	err = s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?);`, currentSchemaVersion); err != nil {
			return &mcperr.PersistenceError{Op: "migrate:seed_version", Err: err}
		}
	} else if err != nil {
		return &mcperr.PersistenceError{Op: "migrate:read_version", Err: err}
	}

	createSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		server_name TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		tool_args TEXT,
		result TEXT,
		truncated INTEGER NOT NULL DEFAULT 0,
		blocked INTEGER NOT NULL DEFAULT 0,
		block_reason TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);`, auditTableName)
	if _, err := s.db.Exec(createSQL); err != nil {
		return &mcperr.PersistenceError{Op: "migrate:create_table", Err: err}
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_server ON %s (server_name);", auditTableName, auditTableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tool ON %s (tool_name);", auditTableName, auditTableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_blocked ON %s (blocked);", auditTableName, auditTableName),
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return &mcperr.PersistenceError{Op: "migrate:create_index", Err: err}
		}
	}
	return nil
}

// Append persists entry and returns it with its assigned ID.
func (s *SQLiteStore) Append(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	insertSQL := fmt.Sprintf(`
	INSERT INTO %s (timestamp, server_name, tool_name, tool_args, result, truncated, blocked, block_reason, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`, auditTableName)

	result, err := s.db.ExecContext(ctx, insertSQL,
		entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		entry.ServerName,
		entry.ToolName,
		nullableRaw(entry.ToolArgs),
		nullableRaw(entry.Result),
		entry.Truncated,
		entry.Blocked,
		nullableString(entry.BlockReason),
		entry.DurationMS,
	)
	if err != nil {
		return audit.Entry{}, &mcperr.PersistenceError{Op: "append", Err: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return audit.Entry{}, &mcperr.PersistenceError{Op: "append:last_insert_id", Err: err}
	}
	entry.ID = id
	return entry, nil
}

// Query returns entries matching filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	where := []string{"1 = 1"}
	var args []any
	if filter.ServerName != "" {
		where = append(where, "server_name = ?")
		args = append(args, filter.ServerName)
	}
	if filter.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, filter.ToolName)
	}
	if filter.Blocked != nil {
		where = append(where, "blocked = ?")
		args = append(args, *filter.Blocked)
	}

	querySQL := fmt.Sprintf(`
	SELECT id, timestamp, server_name, tool_name, tool_args, result, truncated, blocked, block_reason, duration_ms
	FROM %s WHERE %s ORDER BY id DESC LIMIT ? OFFSET ?;`, auditTableName, joinAnd(where))
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, &mcperr.PersistenceError{Op: "query", Err: err}
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var timestamp string
		var toolArgs, result, blockReason sql.NullString

		if err := rows.Scan(&e.ID, &timestamp, &e.ServerName, &e.ToolName, &toolArgs, &result, &e.Truncated, &e.Blocked, &blockReason, &e.DurationMS); err != nil {
			return nil, &mcperr.PersistenceError{Op: "query:scan", Err: err}
		}
		if parsed, err := parseTimestamp(timestamp); err == nil {
			e.Timestamp = parsed
		}
		if toolArgs.Valid {
			e.ToolArgs = json.RawMessage(toolArgs.String)
		}
		if result.Valid {
			e.Result = json.RawMessage(result.String)
		}
		if blockReason.Valid {
			e.BlockReason = blockReason.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &mcperr.PersistenceError{Op: "query:rows", Err: err}
	}
	return entries, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &mcperr.PersistenceError{Op: "close", Err: err}
	}
	return nil
}

func nullableRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.000Z07:00", s)
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// Compile-time check that SQLiteStore implements audit.Store.
var _ audit.Store = (*SQLiteStore)(nil)
