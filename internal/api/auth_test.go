package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		parts := readParts(t, r)
		assert.Equal(t, []string{"email", "password", "from_mobile", "imei[]"}, partNames(parts))
		assert.Equal(t, "true", parts[2].value)

		_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","user":{"id":5}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeCreds{token: "ignored"})

	tok, err := c.Login(t.Context(), LoginRequest{Email: "a@b.c", Password: "pw", IMEIs: []string{"3569"}})
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.JSONEq(t, `{"id":5}`, string(tok.User))
}

func TestLogin_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message", `{"message":"Invalid credentials"}`, "Invalid credentials"},
		{"error", `{"error":"Account locked"}`, "Account locked"},
		{"nothing", `{}`, "login failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, nil)

			_, err := c.Login(t.Context(), LoginRequest{Email: "a@b.c", Password: "bad"})
			require.ErrorIs(t, err, ErrLoginRejected)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogin_HTTPErrorNeverRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Wrong password"}`))
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "t", fresh: "f"}
	c := newTestClient(t, srv.URL, creds)

	_, err := c.Login(t.Context(), LoginRequest{Email: "a@b.c", Password: "bad"})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "Wrong password")
	assert.Equal(t, int32(0), creds.refreshes.Load())
}

func TestRefresh_SendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refresh", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["refresh_token"])

		_, _ = w.Write([]byte(`{"access_token":"a2"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	tok, err := c.Refresh(t.Context(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)
}

func TestRefresh_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	_, err := c.Refresh(t.Context(), "r1")
	require.Error(t, err)
}

func TestLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/logout", r.URL.Path)
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeCreds{token: "t"})
	require.NoError(t, c.Logout(t.Context()))
}
