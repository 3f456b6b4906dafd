package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/agencyctl/internal/store"
)

// Schema creates the credentials table. Safe to run on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
	profile       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	expires_at    INTEGER NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	principal_key TEXT NOT NULL DEFAULT '',
	updated_at    INTEGER NOT NULL
);
`

// SQLiteStore implements store.CredentialStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema variants.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates the tables this store needs.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadCredential returns the saved credential for profile or store.ErrNotFound.
func (s *SQLiteStore) LoadCredential(ctx context.Context, profile string) (*store.CredentialRecord, error) {
	query := `
		SELECT profile, access_token, expires_at, user_id, email, principal_key, updated_at
		FROM credentials
		WHERE profile = ?
	`
	var (
		rec       store.CredentialRecord
		expiresAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, profile).Scan(
		&rec.Profile,
		&rec.AccessToken,
		&expiresAt,
		&rec.UserID,
		&rec.Email,
		&rec.PrincipalKey,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential %q: %w", profile, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query credential: %w", err)
	}

	rec.ExpiresAt = time.UnixMilli(expiresAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

// SaveCredential inserts or replaces the credential for rec.Profile.
func (s *SQLiteStore) SaveCredential(ctx context.Context, rec *store.CredentialRecord) error {
	if rec == nil || rec.Profile == "" {
		return fmt.Errorf("save credential: profile is required")
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO credentials (profile, access_token, expires_at, user_id, email, principal_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			access_token  = excluded.access_token,
			expires_at    = excluded.expires_at,
			user_id       = excluded.user_id,
			email         = excluded.email,
			principal_key = excluded.principal_key,
			updated_at    = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.Profile,
		rec.AccessToken,
		rec.ExpiresAt.UnixMilli(),
		rec.UserID,
		rec.Email,
		rec.PrincipalKey,
		updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the credential for profile. Missing rows are not an error.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, profile string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ListProfiles returns every profile with a saved credential, sorted by name.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT profile FROM credentials ORDER BY profile`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

var _ store.CredentialStore = (*SQLiteStore)(nil)
