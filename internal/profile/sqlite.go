// ABOUTME: SQLite-backed Store implementation for preference profiles.
// ABOUTME: Profiles are stored as JSON documents keyed by identity, WAL mode enabled.

package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite profile store at the given path.
// Parent directories are created if needed. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "profile-store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better read concurrency; the store is read-mostly from
	// the middleware's perspective.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("profile store initialized", "path", path)
	return s, nil
}

// createSchema creates the profiles table if it doesn't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			identity   TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_active
			ON profiles(active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the profile for an identity, or ErrNotFound for missing or
// deactivated identities.
func (s *SQLiteStore) Get(ctx context.Context, id Identity) (*Profile, error) {
	var data string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM profiles WHERE identity = ? AND active = 1`,
		string(id),
	).Scan(&data, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decoding profile %s: %w", id, err)
	}
	p.Identity = id
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

// Put validates, normalizes and upserts the profile.
func (s *SQLiteStore) Put(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	stored := p.Clone()
	stored.Normalize()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (identity, data, active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			data = excluded.data,
			active = 1,
			updated_at = excluded.updated_at`,
		string(stored.Identity), string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("storing profile: %w", err)
	}
	return nil
}

// Deactivate marks an identity inactive without deleting the row.
func (s *SQLiteStore) Deactivate(ctx context.Context, id Identity) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET active = 0, updated_at = ? WHERE identity = ?`,
		time.Now().UTC(), string(id),
	)
	if err != nil {
		return fmt.Errorf("deactivating profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivating profile: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all active identities sorted.
func (s *SQLiteStore) List(ctx context.Context) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity FROM profiles WHERE active = 1 ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		out = append(out, Identity(id))
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
