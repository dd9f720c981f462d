package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tangramhq/gatewayhub/internal/util"
)

// AuthorizedKeyKind distinguishes a key the host's owner added for
// themselves from one installed for a support engineer's temporary access.
type AuthorizedKeyKind string

const (
	AuthorizedKeyKindUser    AuthorizedKeyKind = "user"
	AuthorizedKeyKindSupport AuthorizedKeyKind = "support"
)

// AuthorizedKey is a durable record of an SSH public key the hub has asked a
// gateway to install in the host's authorized_keys file.
type AuthorizedKey struct {
	ID          string            `db:"id"`
	HostID      string            `db:"host_id"`
	Fingerprint string            `db:"fingerprint"`
	PublicKey   string            `db:"public_key"`
	Label       string            `db:"label"`
	Kind        AuthorizedKeyKind `db:"kind"`
	ExpiresAt   *time.Time        `db:"expires_at"`
	CreatedAt   time.Time         `db:"created_at"`
}

// CreateAuthorizedKey records an authorize request. fingerprint uniquely
// identifies the key per host; re-authorizing the same fingerprint updates
// the existing row instead of creating a duplicate.
func (s *Store) CreateAuthorizedKey(ctx context.Context, hostID, fingerprint, publicKey, label string, kind AuthorizedKeyKind, expiresAt *time.Time) (*AuthorizedKey, error) {
	k := AuthorizedKey{
		ID:          util.MustNew(),
		HostID:      hostID,
		Fingerprint: fingerprint,
		PublicKey:   publicKey,
		Label:       label,
		Kind:        kind,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorized_keys (id, host_id, fingerprint, public_key, label, kind, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (host_id, fingerprint) DO UPDATE
		SET public_key = EXCLUDED.public_key, label = EXCLUDED.label, kind = EXCLUDED.kind, expires_at = EXCLUDED.expires_at`,
		k.ID, k.HostID, k.Fingerprint, k.PublicKey, k.Label, k.Kind, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert authorized key: %w", err)
	}
	return &k, nil
}

// DeleteAuthorizedKey removes a key by host and fingerprint.
func (s *Store) DeleteAuthorizedKey(ctx context.Context, hostID, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM authorized_keys WHERE host_id = $1 AND fingerprint = $2`, hostID, fingerprint)
	if err != nil {
		return fmt.Errorf("store: delete authorized key: %w", err)
	}
	return nil
}

// ListAuthorizedKeys returns every key on record for a host.
func (s *Store) ListAuthorizedKeys(ctx context.Context, hostID string) ([]AuthorizedKey, error) {
	var keys []AuthorizedKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT * FROM authorized_keys WHERE host_id = $1 ORDER BY created_at`, hostID)
	if err != nil {
		return nil, fmt.Errorf("store: list authorized keys: %w", err)
	}
	return keys, nil
}

// ListExpiredAuthorizedKeys returns keys whose expiry has passed, across all
// hosts. The reconciler does not call it.
func (s *Store) ListExpiredAuthorizedKeys(ctx context.Context) ([]AuthorizedKey, error) {
	var keys []AuthorizedKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT * FROM authorized_keys WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list expired authorized keys: %w", err)
	}
	return keys, nil
}
