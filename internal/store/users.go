package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tangramhq/gatewayhub/internal/util"
)

// ErrIdentityConflict is returned when a provider identity and an email
// identity presented together resolve to two different existing users, per
// the "no silent merge" invariant in spec §3. Neither user row is touched
// when this is returned.
var ErrIdentityConflict = errors.New("store: identity conflict")

// User is the root identity entity; email and provider identities resolve
// onto it.
type User struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

// ResolveOrCreateByEmail normalizes email (lowercase, trimmed) and either
// returns the existing user bound to it or creates a new user + email
// identity pair atomically. Email normalization happens here so that two
// logins with differently-cased addresses always resolve to the same user.
func (s *Store) ResolveOrCreateByEmail(ctx context.Context, email string) (_ *User, err error) {
	email = normalizeEmail(email)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer txClose(tx, &err)

	var userID string
	err = tx.GetContext(ctx, &userID, `SELECT user_id FROM email_identities WHERE email = $1`, email)
	switch {
	case err == nil:
		// fall through: user already exists
	case errors.Is(err, sql.ErrNoRows):
		userID = util.MustNew()
		if _, err = tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ($1)`, userID); err != nil {
			return nil, fmt.Errorf("store: insert user: %w", err)
		}
		identityID := util.MustNew()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO email_identities (id, user_id, email) VALUES ($1, $2, $3)`,
			identityID, userID, email); err != nil {
			return nil, fmt.Errorf("store: insert email identity: %w", err)
		}
	default:
		return nil, fmt.Errorf("store: lookup email identity: %w", err)
	}

	var u User
	if err = tx.GetContext(ctx, &u, `SELECT id, created_at FROM users WHERE id = $1`, userID); err != nil {
		return nil, fmt.Errorf("store: fetch user: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return &u, nil
}

// ResolveOrCreateByProvider resolves a (provider, provider_user_id) pair to
// a user, creating both the user and the auth identity on first sight. This
// is deterministic and idempotent: the same pair always yields the same
// user id, so a repeated OAuth login never creates a duplicate account.
func (s *Store) ResolveOrCreateByProvider(ctx context.Context, provider, providerUserID string) (_ *User, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer txClose(tx, &err)

	var userID string
	err = tx.GetContext(ctx, &userID,
		`SELECT user_id FROM auth_identities WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		userID = util.MustNew()
		if _, err = tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ($1)`, userID); err != nil {
			return nil, fmt.Errorf("store: insert user: %w", err)
		}
		identityID := util.MustNew()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO auth_identities (id, user_id, provider, provider_user_id) VALUES ($1, $2, $3, $4)`,
			identityID, userID, provider, providerUserID); err != nil {
			return nil, fmt.Errorf("store: insert auth identity: %w", err)
		}
	default:
		return nil, fmt.Errorf("store: lookup auth identity: %w", err)
	}

	var u User
	if err = tx.GetContext(ctx, &u, `SELECT id, created_at FROM users WHERE id = $1`, userID); err != nil {
		return nil, fmt.Errorf("store: fetch user: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return &u, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.GetContext(ctx, &u, `SELECT id, created_at FROM users WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

// ResolveIdentity resolves a sign-in carrying both a (provider,
// providerUserID) pair and an email address to a single user, linking
// whichever identity is missing. If a matching provider identity and a
// matching email identity already exist but point to different users, it
// returns ErrIdentityConflict and leaves both rows untouched — this is the
// "no silent merge" invariant from spec §3 and the scenario-6 walkthrough
// in §8.
func (s *Store) ResolveIdentity(ctx context.Context, provider, providerUserID, email string) (_ *User, err error) {
	email = normalizeEmail(email)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer txClose(tx, &err)

	byProvider, provErr := lookupUserID(ctx, tx, `SELECT user_id FROM auth_identities WHERE provider = $1 AND provider_user_id = $2`, provider, providerUserID)
	if provErr != nil {
		return nil, fmt.Errorf("store: lookup auth identity: %w", provErr)
	}
	byEmail, emailErr := lookupUserID(ctx, tx, `SELECT user_id FROM email_identities WHERE email = $1`, email)
	if emailErr != nil {
		return nil, fmt.Errorf("store: lookup email identity: %w", emailErr)
	}

	userID, conflict := resolveIdentityUserID(byProvider, byEmail)
	if conflict {
		return nil, ErrIdentityConflict
	}

	if userID == "" {
		userID = util.MustNew()
		if _, err = tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ($1)`, userID); err != nil {
			return nil, fmt.Errorf("store: insert user: %w", err)
		}
	}
	if byProvider == "" {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO auth_identities (id, user_id, provider, provider_user_id) VALUES ($1, $2, $3, $4)`,
			util.MustNew(), userID, provider, providerUserID); err != nil {
			return nil, fmt.Errorf("store: insert auth identity: %w", err)
		}
	}
	if byEmail == "" {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO email_identities (id, user_id, email) VALUES ($1, $2, $3)`,
			util.MustNew(), userID, email); err != nil {
			return nil, fmt.Errorf("store: insert email identity: %w", err)
		}
	}

	var u User
	if err = tx.GetContext(ctx, &u, `SELECT id, created_at FROM users WHERE id = $1`, userID); err != nil {
		return nil, fmt.Errorf("store: fetch user: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return &u, nil
}

// resolveIdentityUserID is the pure decision at the heart of ResolveIdentity,
// split out so it can be property-tested without a database: given the user
// id (or "" for no match) each lookup produced, it returns the user id to
// use and whether the two lookups conflict. The decision is deterministic
// regardless of which lookup ran first.
func resolveIdentityUserID(byProvider, byEmail string) (userID string, conflict bool) {
	switch {
	case byProvider != "" && byEmail != "" && byProvider != byEmail:
		return "", true
	case byProvider != "":
		return byProvider, false
	case byEmail != "":
		return byEmail, false
	default:
		return "", false
	}
}

func lookupUserID(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (string, error) {
	var userID string
	err := tx.GetContext(ctx, &userID, query, args...)
	switch {
	case err == nil:
		return userID, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	default:
		return "", err
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
