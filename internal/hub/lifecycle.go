package hub

import (
	"context"
	"encoding/json"

	"github.com/tangramhq/gatewayhub/internal/logging"
	"github.com/tangramhq/gatewayhub/internal/store"
)

// storeLifecycle implements Lifecycle against the durable metadata store. Its
// methods swallow store errors (logging instead of returning them) because
// the hub's run loop has nowhere useful to propagate a persistence failure
// to: the gateway connection itself is unaffected, and the next hello or
// health tick will retry the write anyway.
type storeLifecycle struct {
	db *store.Store
}

// NewStoreLifecycle adapts db to the Lifecycle interface a Hub expects.
func NewStoreLifecycle(db *store.Store) Lifecycle {
	return &storeLifecycle{db: db}
}

func (l *storeLifecycle) MarkGatewayConnected(ctx context.Context, gatewayID, version string, systemInfo json.RawMessage) {
	if err := l.db.MarkGatewayConnected(ctx, gatewayID, version, systemInfo); err != nil {
		logging.Sugar().Errorw("persist gateway connected", "gateway_id", gatewayID, "err", err)
	}
	// Invariant 2: a host moves provisioning -> active only on the first
	// valid hello from its own gateway; ActivateHostForGateway is a no-op if
	// the host is already active (or in any other status), so a reconnecting
	// gateway's repeated hellos never re-trigger the transition.
	if err := l.db.ActivateHostForGateway(ctx, gatewayID); err != nil {
		logging.Sugar().Errorw("activate host for gateway", "gateway_id", gatewayID, "err", err)
	}
}

func (l *storeLifecycle) UpdateSessionStatus(ctx context.Context, sessionID, status string) {
	if err := l.db.UpdateSessionStatus(ctx, sessionID, store.SessionStatus(status)); err != nil {
		logging.Sugar().Errorw("persist session status", "session_id", sessionID, "status", status, "err", err)
	}
}

func (l *storeLifecycle) MarkGatewayDisconnected(ctx context.Context, gatewayID string) {
	if err := l.db.MarkGatewayDisconnected(ctx, gatewayID); err != nil {
		logging.Sugar().Errorw("persist gateway disconnected", "gateway_id", gatewayID, "err", err)
	}
}

func (l *storeLifecycle) TouchGatewayLastSeen(ctx context.Context, gatewayID string) {
	if err := l.db.TouchGatewayLastSeen(ctx, gatewayID); err != nil {
		logging.Sugar().Debugw("touch gateway last seen", "gateway_id", gatewayID, "err", err)
	}
}
