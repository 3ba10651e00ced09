// Package session issues short-lived opaque tokens that stand in for live
// connections, so callers never see raw credentials after the initial
// connect. Expiry is timer-driven with a defensive wall-clock check on
// every read.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 30 * time.Minute

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

// ConnectionRegistry is the slice of the registry the session manager
// depends on.
type ConnectionRegistry interface {
	IsConnected(userID, dbType string) bool
	Disconnect(ctx context.Context, userID, dbType string) error
}

// Session is a time-boxed token standing in for one live connection.
// Lifecycle: Created -> Active -> {Closed | Expired}; both end states are
// terminal and trigger exactly one disconnect of the backing connection.
type Session struct {
	Token     string
	UserID    string
	DBType    string
	CreatedAt time.Time
	ExpiresAt time.Time

	timer *time.Timer
}

// Manager owns the session table. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	registry ConnectionRegistry
	ttl      time.Duration
	logger   *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates a session manager with the given TTL; ttl <= 0 falls
// back to DefaultTTL.
func NewManager(registry ConnectionRegistry, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateSession issues a token for an existing live connection. Fails with
// ErrNoActiveConnection when the backing connection is not registered.
func (m *Manager) CreateSession(userID, dbType string) (*Session, error) {
	if !m.registry.IsConnected(userID, dbType) {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNoActiveConnection, userID, dbType)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	sess := &Session{
		Token:     token,
		UserID:    userID,
		DBType:    dbType,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	sess.timer = time.AfterFunc(m.ttl, func() { m.expire(token) })

	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("userID", userID),
		zap.String("dbType", dbType),
		zap.Time("expiresAt", sess.ExpiresAt),
	)
	return sess, nil
}

// GetSession returns the session for (userID, token), or nil. Nil covers
// unknown tokens, tokens owned by a different user, expired sessions whose
// timer has not fired yet, and sessions whose backing connection is gone.
// Mismatches never error, to avoid leaking token existence.
func (m *Manager) GetSession(userID, token string) *Session {
	m.mu.Lock()
	sess, ok := m.sessions[token]
	m.mu.Unlock()

	if !ok || sess.UserID != userID {
		return nil
	}
	if !m.now().Before(sess.ExpiresAt) {
		// Timer will claim it shortly; the read path just refuses it.
		return nil
	}
	if !m.registry.IsConnected(sess.UserID, sess.DBType) {
		return nil
	}
	return sess
}

// claim atomically removes the session from the table. Exactly one of the
// expiry timer and an explicit DestroySession wins the claim; only the
// winner performs the disconnect side effect.
func (m *Manager) claim(token string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[token]
	if !ok {
		return nil, false
	}
	delete(m.sessions, token)
	return sess, true
}

// DestroySession closes the session explicitly: cancels the pending expiry
// timer and disconnects the backing connection if still registered.
// Destroying an unknown or already-claimed token is a no-op.
func (m *Manager) DestroySession(ctx context.Context, token string) {
	sess, won := m.claim(token)
	if !won {
		return
	}

	sess.timer.Stop()
	m.teardown(ctx, sess, "explicit")
}

// expire is the timer callback; it funnels through the same claim so a
// racing DestroySession can never cause a second disconnect.
func (m *Manager) expire(token string) {
	sess, won := m.claim(token)
	if !won {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.teardown(ctx, sess, "expired")
}

func (m *Manager) teardown(ctx context.Context, sess *Session, reason string) {
	if m.registry.IsConnected(sess.UserID, sess.DBType) {
		if err := m.registry.Disconnect(ctx, sess.UserID, sess.DBType); err != nil {
			m.logger.Warn("disconnect on session end failed",
				zap.String("userID", sess.UserID),
				zap.String("dbType", sess.DBType),
				zap.Error(err),
			)
		}
	}

	m.logger.Info("session ended",
		zap.String("userID", sess.UserID),
		zap.String("dbType", sess.DBType),
		zap.String("reason", reason),
	)
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop cancels all timers and clears the table without disconnecting
// backing connections; the registry's CloseAll owns the shutdown drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		sess.timer.Stop()
	}
	m.sessions = make(map[string]*Session)
	m.logger.Info("session manager stopped")
}
