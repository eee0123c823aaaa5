package pool

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// store is the sqlite-backed durability layer for the credential pool. It
// mirrors the teacher's read-conn + per-write-conn split: the pool's own
// mutex is never held across an I/O call, so every write opens and closes a
// short-lived connection of its own.
type store struct {
	path string
	read *sql.DB
}

func openStore(dataDir string) (*store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("pool: create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "copilot-gateway.db")

	read, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("pool: open db: %w", err)
	}
	read.SetMaxOpenConns(4)

	if _, err := read.Exec(`CREATE TABLE IF NOT EXISTS credentials (
		token TEXT PRIMARY KEY,
		quota_remaining INTEGER NOT NULL,
		quota_total INTEGER NOT NULL,
		last_used TEXT
	)`); err != nil {
		read.Close()
		return nil, fmt.Errorf("pool: create schema: %w", err)
	}

	return &store{path: path, read: read}, nil
}

func (s *store) close() error {
	if s == nil || s.read == nil {
		return nil
	}
	return s.read.Close()
}

type storedRow struct {
	Token          string
	QuotaRemaining int
	QuotaTotal     int
	LastUsed       sql.NullString
}

func (s *store) loadAll() ([]storedRow, error) {
	rows, err := s.read.Query(`SELECT token, quota_remaining, quota_total, last_used FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("pool: load: %w", err)
	}
	defer rows.Close()

	var out []storedRow
	for rows.Next() {
		var r storedRow
		if err := rows.Scan(&r.Token, &r.QuotaRemaining, &r.QuotaTotal, &r.LastUsed); err != nil {
			return nil, fmt.Errorf("pool: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// upsert persists a credential row. Failures are not fatal to the caller;
// the store is a durability aid, not a transaction participant.
func (s *store) upsert(token string, remaining, total int, lastUsed *time.Time) {
	wConn, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return
	}
	defer wConn.Close()

	var lu any
	if lastUsed != nil {
		lu = lastUsed.UTC().Format(time.RFC3339Nano)
	}

	wConn.Exec(`INSERT INTO credentials (token, quota_remaining, quota_total, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			quota_remaining = excluded.quota_remaining,
			quota_total = excluded.quota_total,
			last_used = excluded.last_used`,
		token, remaining, total, lu)
}
