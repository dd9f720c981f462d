package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/tangramhq/gatewayhub/internal/reconcile/providertest"
	"github.com/tangramhq/gatewayhub/internal/store"
)

// fakeStore is a minimal in-memory MetadataStore for exercising each
// reconciliation pass without a real database.
type fakeStore struct {
	hosts       map[string]store.Host
	gateways    map[string]store.Gateway // keyed by host id
	deletedIDs  []string
	credentials map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{hosts: make(map[string]store.Host), gateways: make(map[string]store.Gateway)}
}

func (f *fakeStore) ListHostsByStatus(ctx context.Context, status store.HostStatus) ([]store.Host, error) {
	var out []store.Host
	for _, h := range f.hosts {
		if h.Status == status {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateHostStatus(ctx context.Context, id string, status store.HostStatus) error {
	h := f.hosts[id]
	h.Status = status
	f.hosts[id] = h
	return nil
}

func (f *fakeStore) SetHostIPv4(ctx context.Context, id, ipv4 string) error {
	h := f.hosts[id]
	h.IPv4 = ipv4
	f.hosts[id] = h
	return nil
}

func (f *fakeStore) DeleteHostCascade(ctx context.Context, hostID string) error {
	delete(f.hosts, hostID)
	f.deletedIDs = append(f.deletedIDs, hostID)
	return nil
}

func (f *fakeStore) GetGatewayByHostID(ctx context.Context, hostID string) (*store.Gateway, error) {
	gw, ok := f.gateways[hostID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &gw, nil
}

func (f *fakeStore) PutHostCredential(ctx context.Context, hostID, provider string, ciphertext []byte, kekVersion int16) error {
	if f.credentials == nil {
		f.credentials = make(map[string][]byte)
	}
	f.credentials[hostID] = ciphertext
	return nil
}

func TestPassProvisioningTimeoutFlagsStaleDisconnectedHost(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusProvisioning, ProvisioningStartedAt: &past, ExternalResourceID: "provider-1"}
	fs.gateways["h1"] = store.Gateway{ID: "gw1", HostID: "h1", Connected: false}

	r := New(fs, providertest.New(), Config{ProvisioningDeadline: time.Minute})
	r.passProvisioningTimeout(context.Background())

	if got := fs.hosts["h1"].Status; got != store.HostStatusProvisioningTimeout {
		t.Fatalf("status = %q, want %q", got, store.HostStatusProvisioningTimeout)
	}
}

func TestPassProvisioningTimeoutSparesConnectedGateway(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusProvisioning, ProvisioningStartedAt: &past, ExternalResourceID: "provider-1"}
	fs.gateways["h1"] = store.Gateway{ID: "gw1", HostID: "h1", Connected: true}

	r := New(fs, providertest.New(), Config{ProvisioningDeadline: time.Minute})
	r.passProvisioningTimeout(context.Background())

	if got := fs.hosts["h1"].Status; got != store.HostStatusProvisioning {
		t.Fatalf("status = %q, want unchanged %q", got, store.HostStatusProvisioning)
	}
}

func TestPassProvisioningTimeoutTreatsManualHostsTheSame(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusProvisioning, ProvisioningStartedAt: &past, ExternalResourceID: ""}

	r := New(fs, providertest.New(), Config{ProvisioningDeadline: time.Minute})
	r.passProvisioningTimeout(context.Background())

	if got := fs.hosts["h1"].Status; got != store.HostStatusProvisioningTimeout {
		t.Fatalf("manual host status = %q, want %q (missing gateway still times out)", got, store.HostStatusProvisioningTimeout)
	}
}

func TestPassDeletingCascadesOnProviderSuccess(t *testing.T) {
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusDeleting, ExternalResourceID: "provider-1"}

	r := New(fs, providertest.New(), Config{})
	r.passDeleting(context.Background())

	if _, ok := fs.hosts["h1"]; ok {
		t.Fatal("host should have been cascaded away")
	}
	if len(fs.deletedIDs) != 1 || fs.deletedIDs[0] != "h1" {
		t.Fatalf("deletedIDs = %v, want [h1]", fs.deletedIDs)
	}
}

func TestPassDeletingRetainsHostOnProviderFailure(t *testing.T) {
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusDeleting, ExternalResourceID: "provider-1"}
	mock := providertest.New()
	mock.FailDelete = context.DeadlineExceeded

	r := New(fs, mock, Config{})
	r.passDeleting(context.Background())

	if _, ok := fs.hosts["h1"]; !ok {
		t.Fatal("host should be retained for retry after provider failure")
	}
}

func TestPassDeletingSkipsProviderCallForManualHost(t *testing.T) {
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusDeleting, ExternalResourceID: ""}
	mock := providertest.New()

	r := New(fs, mock, Config{})
	r.passDeleting(context.Background())

	if _, ok := fs.hosts["h1"]; ok {
		t.Fatal("manual host should still cascade with no provider call")
	}
	if len(mock.DeletedIDs) != 0 {
		t.Fatalf("provider DeleteHost should not be called for a manual host, got %v", mock.DeletedIDs)
	}
}

func TestPassIPv4BackfillPersistsFetchedAddress(t *testing.T) {
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusActive, ExternalResourceID: "provider-1"}
	mock := providertest.New()
	mock.Addresses["provider-1"] = "203.0.113.5"

	r := New(fs, mock, Config{})
	r.passIPv4Backfill(context.Background())

	if got := fs.hosts["h1"].IPv4; got != "203.0.113.5" {
		t.Fatalf("ipv4 = %q, want 203.0.113.5", got)
	}
}

func TestPassIPv4BackfillSkipsManualHosts(t *testing.T) {
	fs := newFakeStore()
	fs.hosts["h1"] = store.Host{ID: "h1", Status: store.HostStatusActive, ExternalResourceID: ""}
	mock := providertest.New()

	r := New(fs, mock, Config{})
	r.passIPv4Backfill(context.Background())

	if got := fs.hosts["h1"].IPv4; got != "" {
		t.Fatalf("manual host ipv4 = %q, want empty (nothing to fetch)", got)
	}
}

func TestDeleteHostNowSkipsManualHost(t *testing.T) {
	mock := providertest.New()
	r := New(newFakeStore(), mock, Config{})

	if err := r.DeleteHostNow(context.Background(), store.Host{ID: "h1", ExternalResourceID: ""}); err != nil {
		t.Fatalf("DeleteHostNow for manual host: %v", err)
	}
	if len(mock.DeletedIDs) != 0 {
		t.Fatalf("provider DeleteHost should not be called for a manual host, got %v", mock.DeletedIDs)
	}
}
