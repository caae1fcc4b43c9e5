package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"deepdive-tutor/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps transcripts as JSON payloads in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// Pass ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM transcripts`)
	if err != nil {
		return nil, fmt.Errorf("repository: query transcripts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository: scan transcript id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: query transcripts: %w", err)
	}
	return newestFirst(ids), nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (domain.Session, error) {
	if err := checkID(id); err != nil {
		return domain.Session{}, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM transcripts WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, notFound(id)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: load transcript %q: %w", id, err)
	}
	return decodeSession(id, []byte(payload))
}

func (s *SQLiteStore) Save(ctx context.Context, id string, sess domain.Session) error {
	if err := checkID(id); err != nil {
		return err
	}
	b, err := encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, id, string(b), s.now().Unix())
	if err != nil {
		return fmt.Errorf("repository: save transcript %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repository: delete transcript %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: delete transcript %q: %w", id, err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}
