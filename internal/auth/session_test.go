package auth

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fieldverify/fieldsync/internal/api"
	"github.com/fieldverify/fieldsync/internal/tokenfile"
)

// testLogWriter routes log output through t.Log.
type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// memKV is an in-memory KV.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV {
	return &memKV{data: map[string]string{}}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]

	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value

	return nil
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.data, k)
	}

	return nil
}

func (m *memKV) has(key string) bool {
	_, ok, _ := m.Get(context.Background(), key)
	return ok
}

// fakeBackend answers login and refresh calls from canned values.
type fakeBackend struct {
	loginResp  *api.TokenResponse
	loginErr   error
	refreshFn  func(refreshToken string) (*api.TokenResponse, error)
	refreshes  atomic.Int32
	lastRefTok atomic.Value
}

func (f *fakeBackend) Login(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
	return f.loginResp, f.loginErr
}

func (f *fakeBackend) Refresh(_ context.Context, refreshToken string) (*api.TokenResponse, error) {
	f.refreshes.Add(1)
	f.lastRefTok.Store(refreshToken)

	return f.refreshFn(refreshToken)
}

type fakeRevoker struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRevoker) Logout(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type testSession struct {
	*Session
	tokens  *tokenfile.Store
	kv      *memKV
	backend *fakeBackend
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()

	tokens := tokenfile.New(filepath.Join(t.TempDir(), "token.json"))
	kv := newMemKV()
	backend := &fakeBackend{
		refreshFn: func(string) (*api.TokenResponse, error) {
			return &api.TokenResponse{AccessToken: "access-2"}, nil
		},
	}

	s := NewSession(Config{
		Tokens:        tokens,
		KV:            kv,
		Backend:       backend,
		Logger:        testLogger(t),
		ClearOnLogout: []string{"cases_data", "total_cases"},
	})

	return &testSession{Session: s, tokens: tokens, kv: kv, backend: backend}
}

func (ts *testSession) seed(t *testing.T, access, refresh string) {
	t.Helper()
	require.NoError(t, ts.tokens.Save(&oauth2.Token{AccessToken: access, RefreshToken: refresh}, map[string]string{tokenfile.MetaUserID: "7"}))
	require.NoError(t, ts.kv.Set(t.Context(), KeyUser, `{"id":7,"email":"a@b.c"}`))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "7"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	return s
}

func TestAccessToken_LoggedOut(t *testing.T) {
	ts := newTestSession(t)

	tok, err := ts.AccessToken(t.Context())
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, ts.IsAuthenticated(t.Context()))

	_, err = ts.Token()
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLogin_SavesTokensAndProfile(t *testing.T) {
	ts := newTestSession(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := signedToken(t, exp)
	ts.backend.loginResp = &api.TokenResponse{
		AccessToken:  access,
		RefreshToken: "refresh-1",
		User:         []byte(`{"id":42,"email":"agent@example.com","first_name":"Asha","last_name":"Rao"}`),
	}

	var events []EventKind
	unsubscribe := ts.Subscribe(func(e Event) { events = append(events, e.Kind) })
	defer unsubscribe()

	user, err := ts.Login(t.Context(), "agent@example.com", "pw", nil)
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID)
	assert.Equal(t, "Asha Rao", user.Name)

	tok, meta, err := ts.tokens.Load()
	require.NoError(t, err)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp))
	assert.Equal(t, "42", meta[tokenfile.MetaUserID])

	assert.True(t, ts.kv.has(KeyUser))
	assert.Equal(t, []EventKind{EventLoggedIn}, events)

	cached, err := ts.User(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "42", cached.ID)
	assert.Equal(t, "agent@example.com", cached.Email)
}

func TestLogin_Rejected(t *testing.T) {
	ts := newTestSession(t)
	ts.backend.loginErr = api.ErrLoginRejected

	_, err := ts.Login(t.Context(), "a@b.c", "bad", nil)
	require.ErrorIs(t, err, api.ErrLoginRejected)
	assert.False(t, ts.IsAuthenticated(t.Context()))
}

func TestLogin_ExpiresInFallback(t *testing.T) {
	ts := newTestSession(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ts.nowFunc = func() time.Time { return now }
	ts.backend.loginResp = &api.TokenResponse{AccessToken: "opaque", ExpiresIn: 3600}

	_, err := ts.Login(t.Context(), "a@b.c", "pw", nil)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.True(t, tok.Expiry.Equal(now.Add(time.Hour)))
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "")

	_, err := ts.Refresh(t.Context())
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), ts.backend.refreshes.Load())
	assert.True(t, ts.IsAuthenticated(t.Context()), "credentials kept")
}

func TestRefresh_Success(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "refresh-1")

	var events []EventKind
	ts.Subscribe(func(e Event) { events = append(events, e.Kind) })

	tok, err := ts.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, "refresh-1", ts.backend.lastRefTok.Load())

	saved, meta, err := ts.tokens.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-2", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken, "old refresh token kept")
	assert.Equal(t, "7", meta[tokenfile.MetaUserID], "metadata kept")
	assert.Equal(t, []EventKind{EventRefreshed}, events)
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "refresh-1")
	ts.backend.refreshFn = func(string) (*api.TokenResponse, error) {
		return &api.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	}

	_, err := ts.Refresh(t.Context())
	require.NoError(t, err)

	saved, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", saved.RefreshToken)
}

func TestRefresh_FailureClearsCredentials(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "refresh-1")
	require.NoError(t, ts.kv.Set(t.Context(), "cases_data", "[]"))

	boom := errors.New("refresh rejected")
	ts.backend.refreshFn = func(string) (*api.TokenResponse, error) { return nil, boom }

	var events []EventKind
	ts.Subscribe(func(e Event) { events = append(events, e.Kind) })

	_, err := ts.Refresh(t.Context())
	require.ErrorIs(t, err, boom)

	assert.False(t, ts.IsAuthenticated(t.Context()))
	assert.False(t, ts.kv.has(KeyUser))
	assert.True(t, ts.kv.has("cases_data"), "case cache survives a failed refresh")
	assert.Equal(t, []EventKind{EventCredentialsCleared}, events)
}

func TestRefresh_CanceledKeepsCredentials(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "refresh-1")

	ctx, cancel := context.WithCancel(t.Context())
	ts.backend.refreshFn = func(string) (*api.TokenResponse, error) {
		cancel()
		return nil, context.Canceled
	}

	_, err := ts.Refresh(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, ts.IsAuthenticated(t.Context()))
}

func TestRefresh_SingleFlight(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "refresh-1")

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	ts.backend.refreshFn = func(string) (*api.TokenResponse, error) {
		entered <- struct{}{}
		<-release

		return &api.TokenResponse{AccessToken: "access-2"}, nil
	}

	const callers = 5

	var wg sync.WaitGroup
	results := make([]string, callers)

	wg.Add(1)

	go func() {
		defer wg.Done()

		results[0], _ = ts.Refresh(t.Context())
	}()

	<-entered

	for i := 1; i < callers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i], _ = ts.Refresh(t.Context())
		}()
	}

	// Give the followers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ts.backend.refreshes.Load())

	for _, r := range results {
		assert.Equal(t, "access-2", r)
	}
}

func TestLogout_ClearsEverything(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "refresh-1")
	require.NoError(t, ts.kv.Set(t.Context(), "cases_data", "[]"))
	require.NoError(t, ts.kv.Set(t.Context(), "total_cases", "3"))
	require.NoError(t, ts.kv.Set(t.Context(), "unrelated", "x"))

	revoker := &fakeRevoker{err: errors.New("offline")}

	var events []EventKind
	ts.Subscribe(func(e Event) { events = append(events, e.Kind) })

	require.NoError(t, ts.Logout(t.Context(), revoker))

	assert.Equal(t, int32(1), revoker.calls.Load())
	assert.False(t, ts.IsAuthenticated(t.Context()))
	assert.False(t, ts.kv.has(KeyUser))
	assert.False(t, ts.kv.has("cases_data"))
	assert.False(t, ts.kv.has("total_cases"))
	assert.True(t, ts.kv.has("unrelated"))
	assert.Equal(t, []EventKind{EventLoggedOut}, events)
}

func TestLogout_LoggedOutSkipsServer(t *testing.T) {
	ts := newTestSession(t)
	revoker := &fakeRevoker{}

	require.NoError(t, ts.Logout(t.Context(), revoker))
	assert.Equal(t, int32(0), revoker.calls.Load())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "access-1", "refresh-1")

	var count int
	unsubscribe := ts.Subscribe(func(Event) { count++ })

	_, err := ts.Refresh(t.Context())
	require.NoError(t, err)

	unsubscribe()

	_, err = ts.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUser_FallsBackToMeta(t *testing.T) {
	ts := newTestSession(t)
	require.NoError(t, ts.tokens.Save(&oauth2.Token{AccessToken: "a"}, map[string]string{
		tokenfile.MetaUserID: "9",
		tokenfile.MetaEmail:  "x@y.z",
	}))

	u, err := ts.User(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "9", u.ID)
	assert.Equal(t, "x@y.z", u.Email)
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestSession(t)
	ts.seed(t, "a", "")

	require.NoError(t, ts.UpdateProfile(t.Context(), []byte(`{"id":7,"first_name":"New","last_name":"Name"}`)))

	u, err := ts.User(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "New Name", u.Name)

	require.Error(t, ts.UpdateProfile(t.Context(), []byte(`{`)))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "logged_in", EventLoggedIn.String())
	assert.Equal(t, "credentials_cleared", EventCredentialsCleared.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
