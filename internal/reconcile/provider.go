// Package reconcile drives the scheduled passes that keep host and gateway
// state converged against the external cloud provider, independent of any
// single gateway connection's lifetime.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProviderToken is the OAuth credential pair the cloud provider hands back
// on a refresh, matching spec §3's HostCredential definition ("encrypted
// OAuth access and refresh tokens"): the access token authorizes
// provider API calls until it expires, the refresh token mints the next
// access token without a fresh user consent flow.
type ProviderToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Provider is the external collaborator boundary this package speaks
// against; the provider API itself is out of scope, only its interface to
// the core is specified here. A concrete cloud SDK is deliberately not
// wired in the main binary's default wiring — see DESIGN.md.
type Provider interface {
	// CreateHost provisions a new VPS and returns its provider-assigned
	// resource id.
	CreateHost(ctx context.Context, name string) (externalResourceID string, err error)
	// DeleteHost tears down a previously provisioned VPS. Hosts with an
	// empty externalResourceID (manually attached) must not reach this
	// method; callers are expected to skip them.
	DeleteHost(ctx context.Context, externalResourceID string) error
	// RefreshToken mints a fresh access/refresh token pair for a
	// provisioned host, used when a HostCredential nears expiry.
	RefreshToken(ctx context.Context, externalResourceID string) (token ProviderToken, err error)
	// FetchAddress returns the host's current public IPv4, or "" if the
	// provider has not yet assigned one (still booting).
	FetchAddress(ctx context.Context, externalResourceID string) (ipv4 string, err error)
}

// ManualOnlyProvider is the default Provider wired by cmd/gatewayhub when no
// concrete cloud SDK credentials are configured. It serves manually attached
// hosts fine (reconcile's passes skip the provider entirely for those, since
// they carry an empty ExternalResourceID) and returns a clear error for any
// call a provisioned host would require, rather than silently pretending to
// manage cloud resources it cannot reach.
type ManualOnlyProvider struct{}

func (ManualOnlyProvider) CreateHost(ctx context.Context, name string) (string, error) {
	return "", fmt.Errorf("reconcile: no cloud provider configured, cannot provision %q", name)
}

func (ManualOnlyProvider) DeleteHost(ctx context.Context, externalResourceID string) error {
	return fmt.Errorf("reconcile: no cloud provider configured, cannot delete %q", externalResourceID)
}

func (ManualOnlyProvider) RefreshToken(ctx context.Context, externalResourceID string) (ProviderToken, error) {
	return ProviderToken{}, fmt.Errorf("reconcile: no cloud provider configured, cannot refresh %q", externalResourceID)
}

func (ManualOnlyProvider) FetchAddress(ctx context.Context, externalResourceID string) (string, error) {
	return "", fmt.Errorf("reconcile: no cloud provider configured, cannot fetch address for %q", externalResourceID)
}

// RetryingProvider wraps a Provider with exponential backoff around every
// call, so a transient cloud API failure doesn't abandon a delete or an
// address fetch after a single error. Pass-level retry (the reconcile loop
// itself runs every Config.Interval) already provides an outer retry; this
// adds a tighter inner retry for the brief errors a cloud API throws under
// load, giving up on a call once about ten seconds have passed.
type RetryingProvider struct {
	inner Provider
}

// NewRetryingProvider wraps inner with a short exponential backoff.
func NewRetryingProvider(inner Provider) *RetryingProvider {
	return &RetryingProvider{inner: inner}
}

func (p *RetryingProvider) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(b, ctx)
}

func (p *RetryingProvider) CreateHost(ctx context.Context, name string) (string, error) {
	var id string
	err := backoff.Retry(func() error {
		var err error
		id, err = p.inner.CreateHost(ctx, name)
		return err
	}, p.retryPolicy(ctx))
	return id, err
}

func (p *RetryingProvider) DeleteHost(ctx context.Context, externalResourceID string) error {
	return backoff.Retry(func() error {
		return p.inner.DeleteHost(ctx, externalResourceID)
	}, p.retryPolicy(ctx))
}

func (p *RetryingProvider) RefreshToken(ctx context.Context, externalResourceID string) (ProviderToken, error) {
	var tok ProviderToken
	err := backoff.Retry(func() error {
		var err error
		tok, err = p.inner.RefreshToken(ctx, externalResourceID)
		return err
	}, p.retryPolicy(ctx))
	return tok, err
}

func (p *RetryingProvider) FetchAddress(ctx context.Context, externalResourceID string) (string, error) {
	var ipv4 string
	err := backoff.Retry(func() error {
		var err error
		ipv4, err = p.inner.FetchAddress(ctx, externalResourceID)
		return err
	}, p.retryPolicy(ctx))
	return ipv4, err
}
