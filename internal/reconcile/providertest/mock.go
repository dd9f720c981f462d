// Package providertest provides a scriptable reconcile.Provider stand-in for
// tests, grounded on the teacher's own preference for small hand-written
// fakes over a mocking framework (the teacher's test suite uses plain
// testing throughout, never testify/mock).
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tangramhq/gatewayhub/internal/reconcile"
)

// Mock is a reconcile.Provider backed by in-memory maps; every method can be
// forced to fail by setting the matching Fail* field.
type Mock struct {
	mu sync.Mutex

	FailCreate   error
	FailDelete   error
	FailRefresh  error
	FailFetch    error
	Addresses    map[string]string
	DeletedIDs   []string
	RefreshCalls []string
	nextID       int
}

// New constructs an empty Mock.
func New() *Mock {
	return &Mock{Addresses: make(map[string]string)}
}

func (m *Mock) CreateHost(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return "", m.FailCreate
	}
	m.nextID++
	return fmt.Sprintf("provider-host-%d", m.nextID), nil
}

func (m *Mock) DeleteHost(ctx context.Context, externalResourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete != nil {
		return m.FailDelete
	}
	m.DeletedIDs = append(m.DeletedIDs, externalResourceID)
	return nil
}

func (m *Mock) RefreshToken(ctx context.Context, externalResourceID string) (reconcile.ProviderToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshCalls = append(m.RefreshCalls, externalResourceID)
	if m.FailRefresh != nil {
		return reconcile.ProviderToken{}, m.FailRefresh
	}
	return reconcile.ProviderToken{AccessToken: "refreshed-access-token", RefreshToken: "refreshed-refresh-token"}, nil
}

func (m *Mock) FetchAddress(ctx context.Context, externalResourceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFetch != nil {
		return "", m.FailFetch
	}
	return m.Addresses[externalResourceID], nil
}
