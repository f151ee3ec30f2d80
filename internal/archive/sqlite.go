package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/keshucs12345/taxvoice/internal/logging"
)

const defaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps records in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore opens dsn, creating the parent directory when needed, and
// applies the schema.
func NewSQLiteStore(dsn string, logger *logging.Logger) (*SQLiteStore, error) {
	logger = logger.Component("archive")
	if dsn == "" {
		return nil, errors.New("archive: database DSN not set")
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, defaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("sqlite archive ready", "dsn", dsn)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	formIDs, err := json.Marshal(r.FormIDs)
	if err != nil {
		return err
	}
	collected, err := json.Marshal(r.Collected)
	if err != nil {
		return err
	}
	transcript, err := json.Marshal(r.Transcript)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, completed_at, form_ids, collected, transcript) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.CompletedAt.UnixNano(), string(formIDs), string(collected), string(transcript),
	)
	if err != nil {
		s.logger.Error("archive save failed", "error", err.Error(), "session_id", r.ID)
		return fmt.Errorf("failed to insert session %s: %w", r.ID, err)
	}
	s.logger.Info("session archived", "session_id", r.ID, "answered", len(r.Collected))
	return nil
}

// List returns the newest sessions first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, completed_at, form_ids, collected FROM sessions ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum             Summary
			completedAt     int64
			formIDs, values string
		)
		if err := rows.Scan(&sum.ID, &completedAt, &formIDs, &values); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.CompletedAt = time.Unix(0, completedAt).UTC()
		if err := json.Unmarshal([]byte(formIDs), &sum.FormIDs); err != nil {
			return nil, fmt.Errorf("session %s: %w", sum.ID, err)
		}
		var collected map[string]json.RawMessage
		if err := json.Unmarshal([]byte(values), &collected); err != nil {
			return nil, fmt.Errorf("session %s: %w", sum.ID, err)
		}
		sum.Answered = len(collected)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	var (
		r                           Record
		completedAt                 int64
		formIDs, values, transcript string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, completed_at, form_ids, collected, transcript FROM sessions WHERE id = ?`, id,
	).Scan(&r.ID, &completedAt, &formIDs, &values, &transcript)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	r.CompletedAt = time.Unix(0, completedAt).UTC()
	if err := json.Unmarshal([]byte(formIDs), &r.FormIDs); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(values), &r.Collected); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(transcript), &r.Transcript); err != nil {
		return Record{}, err
	}
	return r, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
