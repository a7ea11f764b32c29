// Package session owns the broker login lifecycle as an explicit object.
//
// A Session is constructed by Login and passed by reference to whatever
// needs the authenticated client; there is no package-level session state.
// When the backend reports an expired token the session flags itself dead
// and stays dead until Renew or a fresh Login. Checks running against a
// dead session fail loudly; nothing here retries on its own.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"signal-recorder/pkg/smartapi"
)

// Credentials is everything needed to open a broker session.
type Credentials struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	BaseURL    string // optional API base override
	Debug      bool
}

// Session is an authenticated broker connection.
type Session struct {
	mu         sync.RWMutex
	client     *smartapi.Client
	clientCode string
	profile    smartapi.Profile
	loginAt    time.Time
	alive      bool
}

// Login generates a fresh TOTP code, authenticates, and returns a live
// session. The profile fetch after login is best-effort: a profile error
// is logged, not fatal, since candle access only needs the tokens.
func Login(ctx context.Context, creds Credentials) (*Session, error) {
	code, err := totp.GenerateCode(creds.TOTPSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("session: generate totp: %w", err)
	}

	client := smartapi.NewClient(smartapi.Config{
		APIKey:  creds.APIKey,
		RootURL: creds.BaseURL,
		Debug:   creds.Debug,
	})

	s := &Session{client: client, clientCode: creds.ClientCode}
	client.SessionExpiryHook = s.markExpired

	if _, err := client.GenerateSession(ctx, creds.ClientCode, creds.Password, code); err != nil {
		return nil, fmt.Errorf("session: login: %w", err)
	}

	if profile, err := client.GetProfile(ctx); err != nil {
		slog.Warn("session: profile fetch failed", "err", err)
	} else {
		s.profile = profile
	}

	s.mu.Lock()
	s.alive = true
	s.loginAt = time.Now()
	s.mu.Unlock()

	slog.Info("session: logged in", "client_code", creds.ClientCode)
	return s, nil
}

// Client returns the authenticated API client. Callers must not hold on
// to tokens themselves; the client carries them.
func (s *Session) Client() *smartapi.Client { return s.client }

// Alive reports whether the session is usable. It turns false when the
// backend rejects a token and turns true again after Renew.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

// LoginAt returns when the current tokens were obtained.
func (s *Session) LoginAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loginAt
}

// Profile returns the logged-in user's profile (zero value if the fetch
// failed at login).
func (s *Session) Profile() smartapi.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *Session) markExpired() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
	slog.Warn("session: token expired, session marked dead")
}

// Renew rotates the access token using the held refresh token. Call it
// between checks, not concurrently with one.
func (s *Session) Renew(ctx context.Context) error {
	if _, err := s.client.RenewAccessToken(ctx); err != nil {
		return fmt.Errorf("session: renew: %w", err)
	}
	s.mu.Lock()
	s.alive = true
	s.loginAt = time.Now()
	s.mu.Unlock()
	slog.Info("session: tokens renewed")
	return nil
}

// Logout terminates the broker session. The session is dead afterwards
// regardless of the API outcome.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()

	if err := s.client.TerminateSession(ctx, s.clientCode); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	slog.Info("session: logged out", "client_code", s.clientCode)
	return nil
}
