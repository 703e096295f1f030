// Package auth owns the agent's login session: the saved tokens, the cached
// user profile, single-flight token refresh, and the background refresh
// loop. Session implements api.Credentials.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/fieldverify/fieldsync/internal/api"
	"github.com/fieldverify/fieldsync/internal/tokenfile"
)

// KeyUser is the KV key holding the logged-in user's profile JSON.
const KeyUser = "user_data"

var (
	// ErrNoRefreshToken is returned by Refresh when no refresh token is saved.
	ErrNoRefreshToken = api.ErrNoRefreshToken
	ErrNotLoggedIn    = errors.New("auth: not logged in")
)

// Backend is the part of the API client the session calls. Login and
// Refresh must not send a bearer token.
type Backend interface {
	Login(ctx context.Context, in api.LoginRequest) (*api.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error)
}

// Revoker revokes the current token on the server.
type Revoker interface {
	Logout(ctx context.Context) error
}

// TokenStore persists tokens. *tokenfile.Store satisfies it.
type TokenStore interface {
	Load() (*oauth2.Token, map[string]string, error)
	Save(tok *oauth2.Token, meta map[string]string) error
	Clear() error
}

// KV holds the cached profile and any other per-user data cleared on
// logout. *store.KV satisfies it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Config wires a Session.
type Config struct {
	Tokens  TokenStore
	KV      KV
	Backend Backend
	Logger  *slog.Logger

	// ClearOnLogout lists extra KV keys (cached case lists) removed on
	// logout.
	ClearOnLogout []string
}

// User is the cached identity of the logged-in agent.
type User struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// Session is safe for concurrent use.
type Session struct {
	tokens    TokenStore
	kv        KV
	backend   Backend
	logger    *slog.Logger
	clearKeys []string
	nowFunc   func() time.Time

	refreshGroup singleflight.Group

	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int
	loopStop  context.CancelFunc
	loopDone  chan struct{}
}

// NewSession returns a Session over cfg.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		tokens:    cfg.Tokens,
		kv:        cfg.KV,
		backend:   cfg.Backend,
		logger:    logger,
		clearKeys: cfg.ClearOnLogout,
		nowFunc:   time.Now,
		listeners: make(map[int]func(Event)),
	}
}

// AccessToken returns the saved access token, or "" when logged out.
func (s *Session) AccessToken(_ context.Context) (string, error) {
	tok, _, err := s.tokens.Load()
	if err != nil {
		return "", fmt.Errorf("auth: loading token: %w", err)
	}

	if tok == nil {
		return "", nil
	}

	return tok.AccessToken, nil
}

// IsAuthenticated reports whether an access token is saved.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	tok, err := s.AccessToken(ctx)
	return err == nil && tok != ""
}

// HasRefreshToken reports whether a refresh token is saved.
func (s *Session) HasRefreshToken() bool {
	tok, _, err := s.tokens.Load()
	return err == nil && tok != nil && tok.RefreshToken != ""
}

// Token returns the saved token, or ErrNotLoggedIn.
func (s *Session) Token() (*oauth2.Token, error) {
	tok, _, err := s.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("auth: loading token: %w", err)
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	return tok, nil
}

// Login exchanges credentials for tokens, saves them with the user profile,
// and returns the user.
func (s *Session) Login(ctx context.Context, email, password string, imeis []string) (*User, error) {
	resp, err := s.backend.Login(ctx, api.LoginRequest{Email: email, Password: password, IMEIs: imeis})
	if err != nil {
		return nil, fmt.Errorf("auth: login: %w", err)
	}

	user := parseUser(resp.User)
	if user.Email == "" {
		user.Email = email
	}

	tok := s.newToken(resp, "")
	if err := s.tokens.Save(tok, user.meta()); err != nil {
		return nil, fmt.Errorf("auth: saving token: %w", err)
	}

	if len(resp.User) > 0 {
		if err := s.kv.Set(ctx, KeyUser, string(resp.User)); err != nil {
			return nil, fmt.Errorf("auth: saving user profile: %w", err)
		}
	}

	s.logger.Info("logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	s.emit(EventLoggedIn)

	return user, nil
}

// Refresh exchanges the saved refresh token for a new access token.
// Concurrent callers share one exchange. With no refresh token saved it
// returns ErrNoRefreshToken and makes no network call. A failed exchange
// clears the saved credentials.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	v, err, shared := s.refreshGroup.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	if shared {
		s.logger.Debug("joined in-flight token refresh")
	}

	return v.(string), nil
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	old, meta, err := s.tokens.Load()
	if err != nil {
		return "", fmt.Errorf("auth: loading token: %w", err)
	}

	if old == nil || old.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	resp, err := s.backend.Refresh(ctx, old.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("auth: refreshing token: %w", ctx.Err())
		}

		s.logger.Warn("token refresh failed, clearing credentials", slog.String("error", err.Error()))

		if clearErr := s.clearCredentials(ctx); clearErr != nil {
			s.logger.Error("clearing credentials after failed refresh", slog.String("error", clearErr.Error()))
		}

		return "", fmt.Errorf("auth: refreshing token: %w", err)
	}

	tok := s.newToken(resp, old.RefreshToken)
	if err := s.tokens.Save(tok, meta); err != nil {
		return "", fmt.Errorf("auth: saving refreshed token: %w", err)
	}

	s.logger.Info("access token refreshed", slog.Time("expiry", tok.Expiry))
	s.emit(EventRefreshed)

	return tok.AccessToken, nil
}

// Logout revokes the token on the server when revoker is non-nil (errors
// are logged, not returned), then clears tokens, the cached profile and the
// cached case lists, and stops the refresh loop.
func (s *Session) Logout(ctx context.Context, revoker Revoker) error {
	s.StopRefreshLoop()

	if revoker != nil && s.IsAuthenticated(ctx) {
		if err := revoker.Logout(ctx); err != nil {
			s.logger.Warn("server logout failed", slog.String("error", err.Error()))
		}
	}

	var errs []error

	if err := s.tokens.Clear(); err != nil {
		errs = append(errs, err)
	}

	keys := append([]string{KeyUser}, s.clearKeys...)
	if err := s.kv.Delete(ctx, keys...); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}

	s.logger.Info("logged out")
	s.emit(EventLoggedOut)

	return nil
}

// Clear removes the saved tokens and profile without contacting the server.
func (s *Session) Clear(ctx context.Context) error {
	return s.clearCredentials(ctx)
}

func (s *Session) clearCredentials(ctx context.Context) error {
	var errs []error

	if err := s.tokens.Clear(); err != nil {
		errs = append(errs, err)
	}

	if err := s.kv.Delete(context.WithoutCancel(ctx), KeyUser); err != nil {
		errs = append(errs, err)
	}

	s.emit(EventCredentialsCleared)

	return errors.Join(errs...)
}

// User returns the cached identity, or ErrNotLoggedIn.
func (s *Session) User(ctx context.Context) (*User, error) {
	tok, meta, err := s.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("auth: loading token: %w", err)
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	raw, ok, err := s.kv.Get(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("auth: reading user profile: %w", err)
	}

	user := &User{}
	if ok {
		user = parseUser(json.RawMessage(raw))
	}

	if user.ID == "" {
		user.ID = meta[tokenfile.MetaUserID]
	}

	if user.Email == "" {
		user.Email = meta[tokenfile.MetaEmail]
	}

	if user.Name == "" {
		user.Name = meta[tokenfile.MetaName]
	}

	return user, nil
}

// UpdateProfile replaces the cached profile after a server-side update.
func (s *Session) UpdateProfile(ctx context.Context, profile json.RawMessage) error {
	if !json.Valid(profile) {
		return errors.New("auth: profile is not valid JSON")
	}

	if err := s.kv.Set(ctx, KeyUser, string(profile)); err != nil {
		return fmt.Errorf("auth: saving user profile: %w", err)
	}

	return nil
}

// newToken builds the stored token from a login or refresh reply, keeping
// fallbackRefresh when the reply carries no new refresh token.
func (s *Session) newToken(resp *api.TokenResponse, fallbackRefresh string) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = fallbackRefresh
	}

	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}

	if exp, ok := tokenExpiry(resp.AccessToken); ok {
		tok.Expiry = exp
	} else if resp.ExpiresIn > 0 {
		tok.Expiry = s.nowFunc().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	return tok
}

// parseUser reads the fields fieldsync needs out of a profile object. The
// backend sends ids as numbers or strings.
func parseUser(raw json.RawMessage) *User {
	u := &User{}
	if len(raw) == 0 {
		return u
	}

	var p struct {
		ID        json.RawMessage `json:"id"`
		Email     string          `json:"email"`
		Name      string          `json:"name"`
		FirstName string          `json:"first_name"`
		LastName  string          `json:"last_name"`
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return u
	}

	u.Profile = raw
	u.ID = strings.Trim(string(p.ID), `"`)
	u.Email = p.Email
	u.Name = p.Name

	if u.Name == "" {
		u.Name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}

	if u.ID == "null" {
		u.ID = ""
	}

	return u
}

func (u *User) meta() map[string]string {
	meta := map[string]string{}

	for k, v := range map[string]string{
		tokenfile.MetaUserID: u.ID,
		tokenfile.MetaEmail:  u.Email,
		tokenfile.MetaName:   u.Name,
	} {
		if v != "" {
			meta[k] = v
		}
	}

	return meta
}
