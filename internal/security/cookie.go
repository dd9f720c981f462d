package security

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// CookieSigner mints signed browser session cookies carrying (user_id,
// expires). It is adapted from the agent bearer-token signer: same HMAC-SHA256
// JWT machinery, different claim set (no issuer claim).
type CookieSigner struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewCookieSigner returns a signer with the given HMAC secret and cookie
// lifetime.
func NewCookieSigner(secret []byte, ttl time.Duration) *CookieSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CookieSigner{secret: secret, ttl: ttl, clock: time.Now}
}

// Sign returns a compact JWT whose subject is userID and whose exp is now+ttl.
func (s *CookieSigner) Sign(userID string) (string, error) {
	now := s.clock()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// CookieVerifier validates a browser session cookie previously minted by
// CookieSigner.
type CookieVerifier struct {
	secret []byte
}

// NewCookieVerifier constructs a verifier sharing the signer's secret.
func NewCookieVerifier(secret []byte) *CookieVerifier {
	return &CookieVerifier{secret: secret}
}

var (
	// ErrInvalidCookie covers malformed tokens and signature mismatches.
	ErrInvalidCookie = errors.New("security: invalid session cookie")
	// ErrExpiredCookie is returned once the cookie's exp claim has passed.
	ErrExpiredCookie = errors.New("security: session cookie expired")
)

// UserID validates tokenStr and returns the embedded user id.
func (v *CookieVerifier) UserID(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCookie
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCookie
		}
		return "", ErrInvalidCookie
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidCookie
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidCookie
	}
	return sub, nil
}
