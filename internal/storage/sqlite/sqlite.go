package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/execd/internal/storage"

	_ "modernc.org/sqlite"
)

var _ storage.BlobStore = (*SQLiteStore)(nil)

// SQLiteStore keeps published artifacts in a SQLite database and hands out
// URLs under which the server serves them back.
type SQLiteStore struct {
	db      *sql.DB
	baseURL string
	now     func() time.Time
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing). Published
// artifacts are addressed as <baseURL>/artifacts/<id>.
func Open(dbPath, baseURL string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db, baseURL: baseURL, now: time.Now}, nil
}

// Publish stores data and returns its URL.
func (s *SQLiteStore) Publish(ctx context.Context, data []byte, filename, mediaType string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, filename, media_type, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, filename, mediaType, data, s.now().UTC().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting artifact: %w", err)
	}
	return s.URL(id), nil
}

// URL returns the address a stored artifact is served from.
func (s *SQLiteStore) URL(id string) string {
	return storage.JoinURL(s.baseURL, "artifacts", id)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*storage.Blob, error) {
	var b storage.Blob
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, media_type, data, created_at
		FROM artifacts WHERE id = ?`, id).
		Scan(&b.ID, &b.Filename, &b.MediaType, &b.Data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact: %w", err)
	}
	b.CreatedAt = time.Unix(0, created).UTC()
	return &b, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging artifacts: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
