package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HostCredential is the encrypted-at-rest form of a cloud provider's OAuth
// access and refresh token pair for one host. Plaintext never reaches this
// package: callers pass already-encrypted bytes produced by
// security.HostCredentialCipher, encrypting the JSON-encoded
// reconcile.ProviderToken pair rather than a single opaque token, so a
// refresh token survives alongside the access token it was issued with.
type HostCredential struct {
	HostID     string    `db:"host_id"`
	Provider   string    `db:"provider"`
	Ciphertext []byte    `db:"ciphertext"`
	KEKVersion int16     `db:"kek_version"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// PutHostCredential upserts the encrypted credential blob for a host.
func (s *Store) PutHostCredential(ctx context.Context, hostID, provider string, ciphertext []byte, kekVersion int16) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_credentials (host_id, provider, ciphertext, kek_version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (host_id) DO UPDATE
		SET provider = EXCLUDED.provider, ciphertext = EXCLUDED.ciphertext,
		    kek_version = EXCLUDED.kek_version, updated_at = now()`,
		hostID, provider, ciphertext, kekVersion)
	if err != nil {
		return fmt.Errorf("store: put host credential: %w", err)
	}
	return nil
}

// GetHostCredential fetches the encrypted credential blob for a host.
func (s *Store) GetHostCredential(ctx context.Context, hostID string) (*HostCredential, error) {
	var c HostCredential
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM host_credentials WHERE host_id = $1`, hostID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get host credential: %w", err)
	}
	return &c, nil
}
