package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TokenResponse is the body returned by login and refresh.
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type,omitempty"`
	ExpiresIn    int64           `json:"expires_in,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
	Message      string          `json:"message,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// LoginRequest carries agent credentials. IMEIs identify the device and are
// optional.
type LoginRequest struct {
	Email    string
	Password string
	IMEIs    []string
}

// Login exchanges credentials for tokens. A 2xx reply without an access
// token is a rejection and returns ErrLoginRejected with the backend's
// message.
func (c *Client) Login(ctx context.Context, in LoginRequest) (*TokenResponse, error) {
	fields := []field{
		{name: "email", value: in.Email},
		{name: "password", value: in.Password},
		{name: "from_mobile", value: "true"},
	}

	for _, imei := range in.IMEIs {
		fields = append(fields, field{name: "imei[]", value: imei})
	}

	body, contentType, err := encodeMultipart(fields, nil)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        "login",
		body:        body,
		contentType: contentType,
		anonymous:   true,
	})
	if err != nil {
		return nil, err
	}

	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("api: decoding login response: %w", err)
	}

	if tok.AccessToken == "" {
		msg := tok.Message
		if msg == "" {
			msg = tok.Error
		}

		if msg == "" {
			msg = "login failed, check your credentials"
		}

		return nil, fmt.Errorf("%w: %s", ErrLoginRejected, msg)
	}

	return &tok, nil
}

// Refresh exchanges a refresh token for a new access token. The call is
// sent without a bearer header so it can never recurse into another refresh.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data, err := c.postJSON(ctx, "refresh", map[string]string{"refresh_token": refreshToken}, true)
	if err != nil {
		return nil, err
	}

	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("api: decoding refresh response: %w", err)
	}

	if tok.AccessToken == "" {
		return nil, fmt.Errorf("api: refresh response has no access token")
	}

	return &tok, nil
}

// Logout asks the backend to revoke the current token.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, &request{method: http.MethodPost, path: "logout"})
	return err
}
