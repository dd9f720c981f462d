package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionStatus enumerates the lifecycle of a terminal session row, matching
// the gateway-reported session.started/ended/error events verbatim.
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusEnded    SessionStatus = "ended"
	SessionStatusError    SessionStatus = "error"
)

// Session is a durable record of a terminal session's lifetime; it does not
// carry terminal bytes, only the metadata needed for the host's session
// list and audit history.
type Session struct {
	ID             string        `db:"id"`
	HostID         string        `db:"host_id"`
	UserID         string        `db:"user_id"`
	Name           string        `db:"name"`
	Workdir        string        `db:"workdir"`
	Agent          string        `db:"agent"`
	Status         SessionStatus `db:"status"`
	LastActivityAt time.Time     `db:"last_activity_at"`
	CreatedAt      time.Time     `db:"created_at"`
	EndedAt        *time.Time    `db:"ended_at"`
}

// CreateSessionParams is the input to CreateSession.
type CreateSessionParams struct {
	HostID    string
	SessionID string
	UserID    string
	Name      string
	Workdir   string
	Agent     string
}

// CreateSession inserts a new session row in the starting state; it moves to
// running once the gateway's session.started event arrives.
func (s *Store) CreateSession(ctx context.Context, p CreateSessionParams) (*Session, error) {
	now := time.Now()
	sess := Session{
		ID:             p.SessionID,
		HostID:         p.HostID,
		UserID:         p.UserID,
		Name:           p.Name,
		Workdir:        p.Workdir,
		Agent:          p.Agent,
		Status:         SessionStatusStarting,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, host_id, user_id, name, workdir, agent, status, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.HostID, sess.UserID, sess.Name, sess.Workdir, sess.Agent, sess.Status, sess.LastActivityAt, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert session: %w", err)
	}
	return &sess, nil
}

// TouchSessionActivity stamps a session's last-activity timestamp. The hub's
// relay path does not call it, so last_activity_at keeps its creation value
// unless another caller stamps it.
func (s *Store) TouchSessionActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: touch session activity: %w", err)
	}
	return nil
}

// ListSessionsByUser returns every session a user owns across all of their
// hosts, most recent first, for an owner-scoped session list.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT * FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions by user: %w", err)
	}
	return sessions, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &sess, nil
}

// UpdateSessionStatus moves a session to status, stamping ended_at when the
// new status is terminal (ended or error). Called from the hub's lifecycle
// bridge on session.started/ended/error events (see internal/hub/lifecycle.go).
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	if status == SessionStatusEnded || status == SessionStatusError {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET status = $1, ended_at = now() WHERE id = $2`, status, id)
		if err != nil {
			return fmt.Errorf("store: update session status: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("store: update session status: %w", err)
	}
	return nil
}

// ListActiveSessionsByHost returns every non-terminal session bound to a host.
func (s *Store) ListActiveSessionsByHost(ctx context.Context, hostID string) ([]Session, error) {
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT * FROM sessions WHERE host_id = $1 AND status IN ($2, $3)`,
		hostID, SessionStatusStarting, SessionStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("store: list active sessions: %w", err)
	}
	return sessions, nil
}
