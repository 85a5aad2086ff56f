package eldes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultLease is how long the cloud keeps an access token valid.
	DefaultLease = 2 * time.Minute
	// DefaultLeaseMargin is subtracted from the lease so renewal happens
	// before the token actually expires.
	DefaultLeaseMargin = 30 * time.Second
)

// Session holds the tokens of an authenticated account.
type Session struct {
	Token        string
	RefreshToken string
	Expiry       time.Time
}

// Expired reports whether the session needs to be renewed at the given time.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.Expiry)
}

type tokenPayload struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	HostDeviceID string `json:"hostDeviceId"`
}

// SessionManager owns the session tokens and their expiry.
type SessionManager struct {
	transport *Transport
	username  string
	password  string
	lease     time.Duration
	now       func() time.Time

	mu      sync.Mutex
	session Session
}

func newSessionManager(t *Transport, username, password string, o options) *SessionManager {
	return &SessionManager{
		transport: t,
		username:  username,
		password:  password,
		lease:     o.lease - o.leaseMargin,
		now:       o.now,
	}
}

// Current returns a copy of the current session.
func (m *SessionManager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Authorization returns the Authorization header value for API calls.
func (m *SessionManager) Authorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bearer(m.session.Token)
}

// Login authenticates with the stored credentials.
func (m *SessionManager) Login(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.login(ctx); err != nil {
		return Session{}, err
	}
	return m.session, nil
}

// EnsureFresh renews the session if it is expired, and is a no-op otherwise.
func (m *SessionManager) EnsureFresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.Expired(m.now()) {
		return nil
	}
	log.Debug("session expired, renewing", "expiry", m.session.Expiry)
	return m.renew(ctx)
}

// Renew exchanges the refresh token for a new access token, falling back to
// a full login if the refresh token is rejected.
func (m *SessionManager) Renew(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renew(ctx)
}

func (m *SessionManager) login(ctx context.Context) error {
	const op = "login"
	resp, err := m.transport.Do(ctx, http.MethodPost, "auth/login", "", loginRequest{
		Email:    m.username,
		Password: m.password,
	})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return newError(statusKind(resp.StatusCode), op, resp.StatusCode, nil)
	}
	if err := m.merge(op, resp.Body); err != nil {
		return err
	}
	if m.session.Token == "" {
		return newError(KindValidation, op, resp.StatusCode, fmt.Errorf("no token in response"))
	}
	log.Info("logged in", "user", m.username)
	return nil
}

func (m *SessionManager) renew(ctx context.Context) error {
	const op = "renew token"
	if m.session.RefreshToken == "" {
		return m.fallback(ctx)
	}

	resp, err := m.transport.Do(ctx, http.MethodGet, "auth/token", bearer(m.session.RefreshToken), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		log.Warn("refresh token rejected, logging in again", "status", resp.StatusCode)
		return m.fallback(ctx)
	}
	if !resp.ok() {
		return newError(statusKind(resp.StatusCode), op, resp.StatusCode, nil)
	}
	return m.merge(op, resp.Body)
}

func (m *SessionManager) fallback(ctx context.Context) error {
	if err := m.login(ctx); err != nil {
		return fmt.Errorf("could not renew session: %w", err)
	}
	return nil
}

// merge only overwrites the tokens present in the payload.
func (m *SessionManager) merge(op string, body []byte) error {
	var p tokenPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return newError(KindValidation, op, 0, err)
	}
	if p.Token != "" {
		m.session.Token = p.Token
	}
	if p.RefreshToken != "" {
		m.session.RefreshToken = p.RefreshToken
	}
	m.session.Expiry = m.now().Add(m.lease)
	return nil
}

func bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
