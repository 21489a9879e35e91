// Package store persists and publishes execution records
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	_ "modernc.org/sqlite"
)

// SQLiteSink stores execution records in an append-only SQLite table
type SQLiteSink struct {
	db    *sql.DB
	owned bool
}

var (
	_ interfaces.RecordSink   = (*SQLiteSink)(nil)
	_ interfaces.RecordSource = (*SQLiteSink)(nil)
)

// OpenSQLite opens the database at path (":memory:" for a private in-memory database)
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteSink(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteSink uses an existing database handle and creates the schema
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite journal: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	statements := []string{`
	CREATE TABLE IF NOT EXISTS execution_records (
		sequence INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		action_id TEXT NOT NULL,
		rule_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		record TEXT NOT NULL
	);`,
		`CREATE INDEX IF NOT EXISTS execution_records_action ON execution_records (action_id);`,
		`CREATE TRIGGER IF NOT EXISTS execution_records_no_update
		BEFORE UPDATE ON execution_records
		BEGIN SELECT RAISE(ABORT, 'execution records are append-only'); END;`,
		`CREATE TRIGGER IF NOT EXISTS execution_records_no_delete
		BEFORE DELETE ON execution_records
		BEGIN SELECT RAISE(ABORT, 'execution records are append-only'); END;`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts one record
func (s *SQLiteSink) Append(ctx context.Context, record *types.ExecutionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode execution record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_records (sequence, id, action_id, rule_id, status, timestamp, prev_hash, hash, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Sequence,
		record.ID,
		record.ActionID,
		record.RuleID,
		string(record.Status),
		record.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		record.PrevHash,
		record.Hash,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution record %d: %w", record.Sequence, err)
	}
	return nil
}

// Load returns every record in sequence order
func (s *SQLiteSink) Load(ctx context.Context) ([]*types.ExecutionRecord, error) {
	return s.query(ctx, `SELECT record FROM execution_records ORDER BY sequence ASC`)
}

// ListByAction returns the records of one action in sequence order
func (s *SQLiteSink) ListByAction(ctx context.Context, actionID string) ([]*types.ExecutionRecord, error) {
	return s.query(ctx, `SELECT record FROM execution_records WHERE action_id = ? ORDER BY sequence ASC`, actionID)
}

func (s *SQLiteSink) query(ctx context.Context, query string, args ...any) ([]*types.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.ExecutionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec := &types.ExecutionRecord{}
		if err := json.Unmarshal([]byte(payload), rec); err != nil {
			return nil, fmt.Errorf("failed to decode execution record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// DB exposes the underlying handle
func (s *SQLiteSink) DB() *sql.DB {
	return s.db
}

// Close closes the database if the sink opened it
func (s *SQLiteSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
