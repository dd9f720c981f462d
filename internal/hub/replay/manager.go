package replay

import (
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager hands out one Store per session id, lazily creating backends with
// the configured retention window. It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	stores    map[string]Store
	retention time.Duration
	redisCli  *redis.Client // nil means in-memory backend
}

// NewManager constructs a Manager. If redisCli is non-nil, session stores
// are backed by Redis (for multi-instance hub deployments); otherwise each
// session gets an independent in-memory ring buffer.
func NewManager(retention time.Duration, redisCli *redis.Client) *Manager {
	if retention <= 0 {
		retention = 2 * time.Minute
	}
	return &Manager{
		stores:    make(map[string]Store),
		retention: retention,
		redisCli:  redisCli,
	}
}

// For returns the Store for sessionID, creating it on first use.
func (m *Manager) For(sessionID string) Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[sessionID]; ok {
		return s
	}
	var s Store
	if m.redisCli != nil {
		s = NewRedis(m.redisCli, sessionID, m.retention, 20)
	} else {
		s = NewInMem(m.retention)
	}
	m.stores[sessionID] = s
	return s
}

// Drop releases the buffer for a session once it has ended.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, sessionID)
}
