package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tangramhq/gatewayhub/internal/util"
)

// Gateway is the durable record of a gateway daemon's identity and last
// known liveness.
type Gateway struct {
	ID          string          `db:"id"`
	HostID      string          `db:"host_id"`
	TokenHash   string          `db:"token_hash"`
	Connected   bool            `db:"connected"`
	LastSeenAt  *time.Time      `db:"last_seen_at"`
	Version     string          `db:"version"`
	SystemInfo  json.RawMessage `db:"system_info"`
	CreatedAt   time.Time       `db:"created_at"`
}

// CreateGateway inserts a new gateway bound to hostID, storing only the
// keyed-MAC hash of its bearer token (see security.HashGatewayToken; the MAC
// key is the process-wide gateway_token_salt secret, not a per-row value).
func (s *Store) CreateGateway(ctx context.Context, hostID, tokenHash string) (*Gateway, error) {
	g := Gateway{
		ID:        util.MustNew(),
		HostID:    hostID,
		TokenHash: tokenHash,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateways (id, host_id, token_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		g.ID, g.HostID, g.TokenHash, g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert gateway: %w", err)
	}
	return &g, nil
}

// GetGateway fetches a gateway by id.
func (s *Store) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	var g Gateway
	if err := s.db.GetContext(ctx, &g, `SELECT * FROM gateways WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get gateway: %w", err)
	}
	return &g, nil
}

// MarkGatewayConnected records a successful gateway.hello, persisting the
// reported version and optional system info block.
func (s *Store) MarkGatewayConnected(ctx context.Context, id, version string, systemInfo json.RawMessage) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE gateways SET connected = TRUE, last_seen_at = $1, version = $2, system_info = $3
		WHERE id = $4`, now, version, systemInfo, id)
	if err != nil {
		return fmt.Errorf("store: mark gateway connected: %w", err)
	}
	return nil
}

// ActivateHostForGateway transitions gatewayID's owning host from
// provisioning to active. It is a no-op if the host is in any other status,
// which is what makes a repeated gateway.hello idempotent (invariant 2):
// only the first valid hello after provisioning flips the row.
func (s *Store) ActivateHostForGateway(ctx context.Context, gatewayID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE hosts SET status = $1, updated_at = now()
		WHERE status = $2
		  AND id = (SELECT host_id FROM gateways WHERE id = $3)`,
		HostStatusActive, HostStatusProvisioning, gatewayID)
	if err != nil {
		return fmt.Errorf("store: activate host for gateway: %w", err)
	}
	return nil
}

// MarkGatewayDisconnected flips the connected flag after the hub's grace
// timer (see internal/hub) expires without a reconnect.
func (s *Store) MarkGatewayDisconnected(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE gateways SET connected = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark gateway disconnected: %w", err)
	}
	return nil
}

// TouchGatewayLastSeen updates last_seen_at on each gateway.health tick.
func (s *Store) TouchGatewayLastSeen(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE gateways SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: touch gateway last seen: %w", err)
	}
	return nil
}

// GetGatewayByHostID fetches the (at most one) gateway bound to a host.
func (s *Store) GetGatewayByHostID(ctx context.Context, hostID string) (*Gateway, error) {
	var g Gateway
	if err := s.db.GetContext(ctx, &g, `SELECT * FROM gateways WHERE host_id = $1`, hostID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get gateway by host: %w", err)
	}
	return &g, nil
}
