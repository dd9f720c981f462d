package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tangramhq/gatewayhub/internal/logging"
	"github.com/tangramhq/gatewayhub/internal/metrics"
	"github.com/tangramhq/gatewayhub/internal/security"
	"github.com/tangramhq/gatewayhub/internal/store"
	"go.uber.org/zap"
)

// MetadataStore is the narrow slice of *store.Store the reconciler needs,
// so tests can substitute a fake rather than a real Postgres instance.
type MetadataStore interface {
	ListHostsByStatus(ctx context.Context, status store.HostStatus) ([]store.Host, error)
	UpdateHostStatus(ctx context.Context, id string, status store.HostStatus) error
	SetHostIPv4(ctx context.Context, id, ipv4 string) error
	DeleteHostCascade(ctx context.Context, hostID string) error
	GetGatewayByHostID(ctx context.Context, hostID string) (*store.Gateway, error)
	PutHostCredential(ctx context.Context, hostID, provider string, ciphertext []byte, kekVersion int16) error
}

// Config tunes the reconciliation passes.
type Config struct {
	// ProvisioningDeadline is how long a host may sit in `provisioning`
	// before pass 1 flags it timed out. Default 10m.
	ProvisioningDeadline time.Duration
	// Interval is how often Run executes all three passes. Default 1m.
	Interval time.Duration
}

func (c *Config) setDefaults() {
	if c.ProvisioningDeadline == 0 {
		c.ProvisioningDeadline = 10 * time.Minute
	}
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
}

// Reconciler runs the three scheduled passes from §4.4: provisioning
// timeout detection, cloud-first host deletion, and IPv4 backfill. It holds
// no per-gateway state; all state lives in the metadata store.
type Reconciler struct {
	db       MetadataStore
	provider Provider
	cfg      Config
	cipher   *security.HostCredentialCipher
}

// Option configures optional Reconciler collaborators.
type Option func(*Reconciler)

// WithCredentialCipher enables persisting a refreshed provider token (as
// encrypted HostCredential rows) whenever passDeleting or DeleteHostNow
// refreshes one ahead of tearing a host down. The reconciler never reads
// the stored credential back: every delete attempt, a retry included,
// refreshes again. Without this option, refreshed tokens are not persisted.
func WithCredentialCipher(c *security.HostCredentialCipher) Option {
	return func(r *Reconciler) { r.cipher = c }
}

// New builds a Reconciler against db and provider.
func New(db MetadataStore, provider Provider, cfg Config, opts ...Option) *Reconciler {
	cfg.setDefaults()
	r := &Reconciler{db: db, provider: provider, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives all three passes on cfg.Interval until ctx is cancelled,
// mirroring the teacher's own ticker-driven background loops
// (runHealthTicker / runFileTransferPruner): a plain time.Ticker is enough
// since nothing here needs cron-style scheduling.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes all three passes a single time; exported so
// cmd/gatewayhubctl can trigger an out-of-band reconciliation.
func (r *Reconciler) RunOnce(ctx context.Context) {
	r.timePass("provisioning_timeout", ctx, r.passProvisioningTimeout)
	r.timePass("deleting", ctx, r.passDeleting)
	r.timePass("ipv4_backfill", ctx, r.passIPv4Backfill)
}

func (r *Reconciler) timePass(name string, ctx context.Context, fn func(context.Context)) {
	start := time.Now()
	fn(ctx)
	metrics.ReconcilePassSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// passProvisioningTimeout implements §4.4 pass 1: any host stuck in
// provisioning past its deadline with a still-disconnected gateway is
// flagged provisioning_timeout. Manually attached hosts (empty
// ExternalResourceID) are still eligible for this pass — the deadline is
// about the gateway never showing up, not about the cloud resource.
func (r *Reconciler) passProvisioningTimeout(ctx context.Context) {
	hosts, err := r.db.ListHostsByStatus(ctx, store.HostStatusProvisioning)
	if err != nil {
		logging.Sugar().Errorw("reconcile: list provisioning hosts", "err", err)
		return
	}
	for _, h := range hosts {
		if h.ProvisioningStartedAt == nil {
			continue
		}
		if time.Since(*h.ProvisioningStartedAt) < r.cfg.ProvisioningDeadline {
			continue
		}
		gw, err := r.db.GetGatewayByHostID(ctx, h.ID)
		if err == nil && gw.Connected {
			continue
		}
		if err := r.db.UpdateHostStatus(ctx, h.ID, store.HostStatusProvisioningTimeout); err != nil {
			logging.Sugar().Errorw("reconcile: flag provisioning timeout", "host_id", h.ID, "err", err)
		}
	}
}

// passDeleting implements §4.4 pass 2: hosts marked deleting get their
// cloud resource torn down (refreshing credentials first if the provider
// requires it), then the ordered metadata cascade. Manual hosts (empty
// ExternalResourceID) have nothing to delete at the provider and go
// straight to cascade.
func (r *Reconciler) passDeleting(ctx context.Context) {
	hosts, err := r.db.ListHostsByStatus(ctx, store.HostStatusDeleting)
	if err != nil {
		logging.Sugar().Errorw("reconcile: list deleting hosts", "err", err)
		return
	}
	for _, h := range hosts {
		if err := r.deleteHost(ctx, h); err != nil {
			logging.Sugar().Warnw("reconcile: delete host retry scheduled", "host_id", h.ID, "err", err)
		}
	}
}

// DeleteHostNow performs the provider-delete half of pass 2 synchronously,
// for the HTTP DELETE /hosts/{host_id} handler's cloud-first protocol. The
// metadata cascade is left to the caller, which runs it after this returns
// nil and before responding.
func (r *Reconciler) DeleteHostNow(ctx context.Context, h store.Host) error {
	if h.ExternalResourceID == "" {
		return nil
	}
	if err := r.refreshCredential(ctx, h); err != nil {
		return err
	}
	return r.provider.DeleteHost(ctx, h.ExternalResourceID)
}

func (r *Reconciler) deleteHost(ctx context.Context, h store.Host) error {
	if h.ExternalResourceID != "" {
		if err := r.refreshCredential(ctx, h); err != nil {
			return err
		}
		if err := r.provider.DeleteHost(ctx, h.ExternalResourceID); err != nil {
			return err
		}
	}
	if err := r.db.DeleteHostCascade(ctx, h.ID); err != nil {
		return err
	}
	logging.Logger().Info("reconcile: host deleted", zap.String("host_id", h.ID))
	return nil
}

// refreshCredential mints a fresh access/refresh token pair for h and, when a
// credential cipher is configured, persists the pair encrypted as one blob.
// Only a refresh failure is returned; the token itself is not handed back.
// Encryption or persistence failures are logged, not fatal.
func (r *Reconciler) refreshCredential(ctx context.Context, h store.Host) error {
	token, err := r.provider.RefreshToken(ctx, h.ExternalResourceID)
	if err != nil {
		return err
	}
	if r.cipher == nil {
		return nil
	}
	plaintext, err := json.Marshal(token)
	if err != nil {
		logging.Sugar().Errorw("reconcile: encode refreshed credential", "host_id", h.ID, "err", err)
		return nil
	}
	ciphertext, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		logging.Sugar().Errorw("reconcile: encrypt refreshed credential", "host_id", h.ID, "err", err)
		return nil
	}
	if err := r.db.PutHostCredential(ctx, h.ID, h.Provider, ciphertext, 1); err != nil {
		logging.Sugar().Errorw("reconcile: persist refreshed credential", "host_id", h.ID, "err", err)
	}
	return nil
}

// passIPv4Backfill implements §4.4 pass 3: any host with a provider
// resource id but no recorded address yet gets one fetched and persisted.
// Manual hosts (empty ExternalResourceID) have nothing to fetch and are
// skipped rather than treated as an error.
func (r *Reconciler) passIPv4Backfill(ctx context.Context) {
	hosts, err := r.db.ListHostsByStatus(ctx, store.HostStatusProvisioning)
	if err != nil {
		logging.Sugar().Errorw("reconcile: list hosts for ipv4 backfill", "err", err)
		return
	}
	active, err := r.db.ListHostsByStatus(ctx, store.HostStatusActive)
	if err != nil {
		logging.Sugar().Errorw("reconcile: list active hosts for ipv4 backfill", "err", err)
		return
	}
	hosts = append(hosts, active...)

	for _, h := range hosts {
		if h.ExternalResourceID == "" || h.IPv4 != "" {
			continue
		}
		ipv4, err := r.provider.FetchAddress(ctx, h.ExternalResourceID)
		if err != nil || ipv4 == "" {
			continue
		}
		if err := r.db.SetHostIPv4(ctx, h.ID, ipv4); err != nil {
			logging.Sugar().Errorw("reconcile: persist ipv4", "host_id", h.ID, "err", err)
		}
	}
}
