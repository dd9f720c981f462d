package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tangramhq/gatewayhub/internal/util"
)

// HostStatus enumerates the lifecycle states a Host moves through.
type HostStatus string

const (
	HostStatusProvisioning        HostStatus = "provisioning"
	HostStatusActive              HostStatus = "active"
	HostStatusOff                 HostStatus = "off"
	HostStatusDeleting            HostStatus = "deleting"
	HostStatusProvisioningTimeout HostStatus = "provisioning_timeout"
)

// Host is a VPS (cloud-provisioned or manually attached) that a gateway
// daemon runs on.
type Host struct {
	ID                    string     `db:"id"`
	UserID                string     `db:"user_id"`
	Name                  string     `db:"name"`
	Status                HostStatus `db:"status"`
	ExternalResourceID    string     `db:"external_resource_id"`
	IPv4                  string     `db:"ipv4"`
	Provider              string     `db:"provider"`
	ProvisioningStartedAt *time.Time `db:"provisioning_started_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// CreateHostParams is the input to CreateHost.
type CreateHostParams struct {
	UserID             string
	Name               string
	Provider           string
	ExternalResourceID string // "" for manually attached hosts
}

// CreateHost inserts a new host in the provisioning state. Cloud-provisioned
// hosts set ExternalResourceID once the provider call returns; manually
// attached hosts leave it empty permanently (see reconcile package for how
// that distinction is honored).
func (s *Store) CreateHost(ctx context.Context, p CreateHostParams) (*Host, error) {
	now := time.Now()
	h := Host{
		ID:                    util.MustNew(),
		UserID:                p.UserID,
		Name:                  p.Name,
		Status:                HostStatusProvisioning,
		ExternalResourceID:    p.ExternalResourceID,
		Provider:              p.Provider,
		ProvisioningStartedAt: &now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosts (id, user_id, name, status, external_resource_id, provider, provisioning_started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.UserID, h.Name, h.Status, h.ExternalResourceID, h.Provider, h.ProvisioningStartedAt, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert host: %w", err)
	}
	return &h, nil
}

// GetHost fetches a host by id.
func (s *Store) GetHost(ctx context.Context, id string) (*Host, error) {
	var h Host
	if err := s.db.GetContext(ctx, &h, `SELECT * FROM hosts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get host: %w", err)
	}
	return &h, nil
}

// ListHostsByStatus returns every host currently in the given status, used
// by the reconciliation passes.
func (s *Store) ListHostsByStatus(ctx context.Context, status HostStatus) ([]Host, error) {
	var hosts []Host
	if err := s.db.SelectContext(ctx, &hosts, `SELECT * FROM hosts WHERE status = $1`, status); err != nil {
		return nil, fmt.Errorf("store: list hosts by status: %w", err)
	}
	return hosts, nil
}

// UpdateHostStatus transitions a host to a new status.
func (s *Store) UpdateHostStatus(ctx context.Context, id string, status HostStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("store: update host status: %w", err)
	}
	return nil
}

// SetHostExternalResourceID records the cloud provider's resource id once a
// provisioning call returns it.
func (s *Store) SetHostExternalResourceID(ctx context.Context, id, externalResourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET external_resource_id = $1, updated_at = now() WHERE id = $2`,
		externalResourceID, id)
	if err != nil {
		return fmt.Errorf("store: set external resource id: %w", err)
	}
	return nil
}

// SetHostIPv4 backfills the host's public address once the provider reports
// one.
func (s *Store) SetHostIPv4(ctx context.Context, id, ipv4 string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET ipv4 = $1, updated_at = now() WHERE id = $2`, ipv4, id)
	if err != nil {
		return fmt.Errorf("store: set host ipv4: %w", err)
	}
	return nil
}

// DeleteHostCascade removes a host and every entity that hangs off it, in
// the order required to satisfy foreign keys even though ON DELETE CASCADE
// would do this implicitly: authorized keys, then sessions, then gateways,
// then the host row itself, matching the explicit ordering the hub's
// lifecycle invariants call for.
func (s *Store) DeleteHostCascade(ctx context.Context, hostID string) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer txClose(tx, &err)

	if _, err = tx.ExecContext(ctx, `DELETE FROM authorized_keys WHERE host_id = $1`, hostID); err != nil {
		return fmt.Errorf("store: delete authorized keys: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE host_id = $1`, hostID); err != nil {
		return fmt.Errorf("store: delete sessions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM gateways WHERE host_id = $1`, hostID); err != nil {
		return fmt.Errorf("store: delete gateways: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM hosts WHERE id = $1`, hostID); err != nil {
		return fmt.Errorf("store: delete host: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
