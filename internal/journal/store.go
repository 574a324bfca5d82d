// Package journal persists bridge events (inbound messages, replies sent,
// errors, pairing alerts) in a local SQLite database so the status and
// journal CLI commands can show recent activity after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded by the bridge.
const (
	KindSession      = "session"
	KindInbound      = "inbound"
	KindReply        = "reply"
	KindError        = "error"
	KindPairingAlert = "pairing_alert"
)

// Store records bridge events in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		account     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		body        TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_account ON events(account, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends one event. Journal failures must never break the relay
// loop; callers log and discard the returned error.
func (s *Store) Record(ctx context.Context, account, kind, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (account, kind, body, created_at) VALUES (?, ?, ?, ?)`,
		account, kind, body, time.Now(),
	)
	return err
}

// Recent returns the last events for an account in chronological order.
// An empty account spans all accounts.
func (s *Store) Recent(ctx context.Context, account string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if account == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, account, kind, body, created_at FROM events
			 ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, account, kind, body, created_at FROM events
			 WHERE account = ? ORDER BY created_at DESC, id DESC LIMIT ?`, account, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var body sql.NullString
		if err := rows.Scan(&e.ID, &e.Account, &e.Kind, &body, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Body = body.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Prune deletes events older than the retention window and returns how
// many rows were removed.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		s.logger.Debug("journal pruned", "events", n, "cutoff", cutoff)
	}
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Event is one journal row.
type Event struct {
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
