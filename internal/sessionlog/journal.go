package sessionlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/gamelink/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial records table
const currentSchemaVersion = 1

// Journal mirrors session log records into SQLite.
type Journal struct {
	db *sql.DB
}

// Entry is a journal row as read back for inspection.
// Attributes stay raw JSON: the journal is never decoded into live records.
type Entry struct {
	LogID      string          `json:"log_id"`
	Seq        int64           `json:"seq"`
	Kind       record.Kind     `json:"kind"`
	Attributes json.RawMessage `json:"attributes"`
	CapturedAt time.Time       `json:"captured_at"`
}

// OpenJournal creates or opens a journal database at path.
// Use ":memory:" for a throwaway journal.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Write inserts rec under logID. Writing the same (logID, seq) twice is a no-op.
func (j *Journal) Write(ctx context.Context, logID string, rec record.Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("write record %d: marshal attributes: %w", rec.Seq, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO records (log_id, seq, kind, attributes, captured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(log_id, seq) DO NOTHING
	`,
		logID,
		rec.Seq,
		string(rec.Kind),
		string(attrs),
		rec.CapturedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write record %d: %w", rec.Seq, err)
	}
	return nil
}

// ReadAll returns every journal entry ordered by insertion.
func (j *Journal) ReadAll(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT log_id, seq, kind, attributes, captured_at
		FROM records
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			kind     string
			attrs    string
			captured string
		)
		if err := rows.Scan(&e.LogID, &e.Seq, &kind, &attrs, &captured); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		e.Kind = record.Kind(kind)
		e.Attributes = json.RawMessage(attrs)
		e.CapturedAt, err = time.Parse(time.RFC3339Nano, captured)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at of record %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return entries, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the schema version.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
