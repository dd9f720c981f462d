package hub

import (
	"context"
	"net/http"
	"strings"

	"github.com/tangramhq/gatewayhub/internal/security"
	"github.com/tangramhq/gatewayhub/internal/store"
)

// devUserHeader is the header a dev-mode deployment trusts to carry an
// already-authenticated user id; it is only ever consulted when AuthMode is
// AuthModeDev, never as a global bypass.
const devUserHeader = "X-Gatewayhub-Dev-User"

// Authenticator verifies gateway bearer tokens and browser session cookies
// against the configured secrets and the metadata store.
type Authenticator struct {
	mode            AuthMode
	cookies         *security.CookieVerifier
	gatewayTokenKey string
	db              *store.Store
}

// NewAuthenticator builds an Authenticator bound to db for gateway token
// lookups and owner checks. gatewayTokenKey is the process-wide MAC key
// (Config.GatewayTokenSalt) every gateway bearer token hash is verified
// against; it is a single operator-held secret, not a per-gateway value.
func NewAuthenticator(mode AuthMode, cookieSecret []byte, gatewayTokenKey string, db *store.Store) *Authenticator {
	return &Authenticator{
		mode:            mode,
		cookies:         security.NewCookieVerifier(cookieSecret),
		gatewayTokenKey: gatewayTokenKey,
		db:              db,
	}
}

// AuthenticateGateway verifies the Authorization: Bearer header against the
// stored hash for gatewayID, keyed by the process-wide gateway token secret,
// returning the gateway record on success.
func (a *Authenticator) AuthenticateGateway(ctx context.Context, r *http.Request, gatewayID string) (*store.Gateway, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, NewError(CodeUnauthorized, "missing bearer token")
	}
	gw, err := a.db.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, NewError(CodeUnauthorized, "unknown gateway")
	}
	if err := security.VerifyGatewayToken(token, a.gatewayTokenKey, gw.TokenHash); err != nil {
		return nil, NewError(CodeUnauthorized, "invalid gateway token")
	}
	return gw, nil
}

// AuthenticateBrowser resolves the caller's user id from either the session
// cookie or, in dev mode, the trusted dev header.
func (a *Authenticator) AuthenticateBrowser(r *http.Request) (string, error) {
	if a.mode == AuthModeDev {
		if uid := r.Header.Get(devUserHeader); uid != "" {
			return uid, nil
		}
	}

	cookie, err := r.Cookie("gatewayhub_session")
	if err != nil {
		return "", NewError(CodeUnauthorized, "missing session cookie")
	}
	userID, err := a.cookies.UserID(cookie.Value)
	if err != nil {
		return "", NewError(CodeUnauthorized, "invalid or expired session cookie")
	}
	return userID, nil
}

// AuthorizeHostOwner checks that userID owns hostID, returning the host
// record on success. Ownership is read from the host row itself, so this
// also doubles as a host-existence check.
func (a *Authenticator) AuthorizeHostOwner(ctx context.Context, userID, hostID string) (*store.Host, error) {
	h, err := a.db.GetHost(ctx, hostID)
	if err != nil {
		return nil, NewError(CodeNotFound, "host not found")
	}
	if h.UserID != userID {
		return nil, NewError(CodeUnauthorized, "not the owner of this host")
	}
	return h, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
