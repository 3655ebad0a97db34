// Package ca implements the Certificate Authority's durable store and
// verification service.
package ca

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/titan-auth/engine/internal/domain"
)

// Store is a SQLite-backed IdentityStore. A single table `identities` holds
// identity_id, pubkey_pem, pubkey_fingerprint (unique), scope, created_at
// and revoked, with supplementary indexes on fingerprint and revoked.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path and
// ensures the schema exists.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ca db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ca db: %w", err)
	}
	// The identity store is shared across processes; a single writable
	// connection avoids SQLITE_BUSY under concurrent writers within a
	// process and lets the database serialize the rest.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			identity_id TEXT PRIMARY KEY,
			pubkey_pem TEXT NOT NULL,
			pubkey_fingerprint TEXT NOT NULL UNIQUE,
			scope TEXT NOT NULL DEFAULT 'access_root',
			created_at TEXT NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_fingerprint ON identities(pubkey_fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_revoked ON identities(revoked)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init ca schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register normalises pem, computes its fingerprint, and inserts a fresh
// identity row. Returns domain.ErrDuplicateKey if the fingerprint already
// exists, including among revoked rows.
func (s *Store) Register(ctx context.Context, publicKeyPEM, scope string) (string, string, error) {
	normalized := domain.NormalizePEM(publicKeyPEM)
	fingerprint := domain.Fingerprint(normalized)
	identityID := uuid.NewString()
	if scope == "" {
		scope = domain.DefaultScope
	}
	createdAt := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (identity_id, pubkey_pem, pubkey_fingerprint, scope, created_at) VALUES (?, ?, ?, ?, ?)`,
		identityID, normalized, fingerprint, scope, createdAt,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return "", "", fmt.Errorf("%w: fingerprint %s", domain.ErrDuplicateKey, fingerprint[:16])
		}
		return "", "", fmt.Errorf("%w: register identity: %v", domain.ErrInternal, err)
	}
	return identityID, fingerprint, nil
}

// GetPublicKey returns the PEM for identityID if it exists and is not
// revoked.
func (s *Store) GetPublicKey(ctx context.Context, identityID string) (string, error) {
	var pem string
	err := s.db.QueryRowContext(ctx,
		`SELECT pubkey_pem FROM identities WHERE identity_id = ? AND revoked = 0`,
		identityID,
	).Scan(&pem)
	if err == sql.ErrNoRows {
		return "", domain.ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("%w: get public key: %v", domain.ErrInternal, err)
	}
	return pem, nil
}

// IsAuthorized reports whether identityID resolves to a non-revoked key.
func (s *Store) IsAuthorized(ctx context.Context, identityID string) (bool, error) {
	_, err := s.GetPublicKey(ctx, identityID)
	if err == domain.ErrUnauthorized {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Revoke marks identityID revoked. Returns whether a row actually
// transitioned.
func (s *Store) Revoke(ctx context.Context, identityID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET revoked = 1 WHERE identity_id = ? AND revoked = 0`,
		identityID,
	)
	if err != nil {
		return false, fmt.Errorf("revoke identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke identity: %w", err)
	}
	return n > 0, nil
}

// CountIdentities returns the number of registered identities, optionally
// including revoked ones.
func (s *Store) CountIdentities(ctx context.Context, includeRevoked bool) (int, error) {
	query := `SELECT COUNT(*) FROM identities WHERE revoked = 0`
	if includeRevoked {
		query = `SELECT COUNT(*) FROM identities`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// CountRevoked returns the number of revoked identities.
func (s *Store) CountRevoked(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities WHERE revoked = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count revoked: %w", err)
	}
	return n, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique")
}
