package hub

import (
	"context"
	"sync"

	"github.com/tangramhq/gatewayhub/internal/hub/replay"
)

// Router is the process-wide registry mapping a gateway id to its single
// live *Hub instance. Hubs are independent and unbounded across gateways;
// the router only arbitrates creation and lookup, never their internal
// state, generalizing the teacher's single-server Router façade to many
// per-gateway hub instances behind one listener.
type Router struct {
	mu        sync.Mutex
	hubs      map[string]*Hub
	cfg       Config
	lifecycle func(gatewayID string) Lifecycle
	replay    *replay.Manager
}

// NewRouter constructs a Router. lifecycleFor builds a Lifecycle bound to a
// specific gatewayID on demand, since each Hub's Lifecycle calls are always
// scoped to its own gateway id.
func NewRouter(cfg Config, lifecycleFor func(gatewayID string) Lifecycle, replayMgr *replay.Manager) *Router {
	return &Router{
		hubs:      make(map[string]*Hub),
		cfg:       cfg,
		lifecycle: lifecycleFor,
		replay:    replayMgr,
	}
}

// HubFor returns the live Hub for gatewayID, creating and starting one if
// none exists yet. A newly started hub keeps running after ctx is cancelled;
// Shutdown or Evict stops it.
func (r *Router) HubFor(ctx context.Context, gatewayID string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[gatewayID]; ok {
		return h
	}
	h := New(gatewayID, r.cfg, r.lifecycle(gatewayID), r.replay)
	r.hubs[gatewayID] = h
	go h.Run(context.WithoutCancel(ctx))
	return h
}

// Shutdown stops every hub and empties the registry, used on process exit or
// in tests.
func (r *Router) Shutdown() {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for id, h := range r.hubs {
		hubs = append(hubs, h)
		delete(r.hubs, id)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		h.Shutdown()
	}
}

// Evict removes gatewayID's hub from the registry and shuts it down,
// used when a host is destroyed (DELETE /hosts/{host_id}).
func (r *Router) Evict(gatewayID string) {
	r.mu.Lock()
	h, ok := r.hubs[gatewayID]
	if ok {
		delete(r.hubs, gatewayID)
	}
	r.mu.Unlock()

	if ok {
		h.Shutdown()
	}
}

// Count reports how many hub instances are currently registered.
func (r *Router) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}
