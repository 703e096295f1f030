package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants for idempotent requests.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Defaults applied by NewClient.
const (
	DefaultBaseURL        = "https://mahajaninvestigations.com/api/"
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadTimeout  = 60 * time.Second
	defaultUserAgent      = "fieldsync/0.1"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

// Credentials supplies bearer tokens. AccessToken returns "" when the user
// is not logged in. Refresh exchanges the stored refresh token and returns
// the new access token, or ErrNoRefreshToken when there is nothing to
// exchange. auth.Session is the production implementation.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// ClientConfig configures a Client. Zero values select defaults.
type ClientConfig struct {
	BaseURL        string
	HTTPClient     *http.Client
	Credentials    Credentials // nil for an anonymous client
	Logger         *slog.Logger
	UserAgent      string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

// Client talks to the backend.
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	creds          Credentials
	logger         *slog.Logger
	userAgent      string
	requestTimeout time.Duration
	uploadTimeout  time.Duration

	// sleepFunc waits between retries. Tests override it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}

	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}

	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("api: parsing base url %q: %w", raw, err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: base url %q must be http or https", raw)
	}

	c := &Client{
		baseURL:        base,
		httpClient:     cfg.HTTPClient,
		creds:          cfg.Credentials,
		logger:         cfg.Logger,
		userAgent:      cfg.UserAgent,
		requestTimeout: cfg.RequestTimeout,
		uploadTimeout:  cfg.UploadTimeout,
		sleepFunc:      timeSleep,
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}

	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}

	if c.uploadTimeout <= 0 {
		c.uploadTimeout = DefaultUploadTimeout
	}

	return c, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// request describes one logical API call. The body is held as bytes so the
// call can be replayed after a token refresh or a retryable failure.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	timeout     time.Duration
	anonymous   bool
}

func (r *request) idempotent() bool {
	return r.method == http.MethodGet
}

// do executes r and returns the response body of a 2xx reply. A 401 on an
// authenticated request triggers one refresh and one retry.
func (c *Client) do(ctx context.Context, r *request) ([]byte, error) {
	token, err := c.accessToken(ctx, r)
	if err != nil {
		return nil, err
	}

	body, err := c.doRetry(ctx, r, token)
	if err == nil || !errors.Is(err, ErrUnauthorized) || r.anonymous || c.creds == nil {
		return body, err
	}

	c.logger.Info("access token rejected, refreshing",
		slog.String("method", r.method),
		slog.String("path", r.path),
	)

	fresh, refreshErr := c.creds.Refresh(ctx)
	if errors.Is(refreshErr, ErrNoRefreshToken) {
		return nil, err
	}

	if refreshErr != nil {
		return nil, fmt.Errorf("api: refreshing token after 401: %w", refreshErr)
	}

	return c.doRetry(ctx, r, fresh)
}

func (c *Client) accessToken(ctx context.Context, r *request) (string, error) {
	if r.anonymous || c.creds == nil {
		return "", nil
	}

	tok, err := c.creds.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("api: obtaining token: %w", err)
	}

	return tok, nil
}

// doRetry sends r with the given token, retrying network errors and
// retryable statuses when r is idempotent.
func (c *Client) doRetry(ctx context.Context, r *request, token string) ([]byte, error) {
	var attempt int

	for {
		status, header, body, err := c.doOnce(ctx, r, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			if r.idempotent() && attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.method),
					slog.String("path", r.path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("api: %s %s: %w", r.method, r.path, err)
		}

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", status),
			)

			return body, nil
		}

		if r.idempotent() && isRetryable(status) && attempt < maxRetries {
			backoff := c.retryBackoff(status, header, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		apiErr := newError(status, body)
		c.logger.Debug("request failed",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Int("status", status),
			slog.String("message", apiErr.Message),
		)

		return nil, apiErr
	}
}

// doOnce sends a single attempt under the request's timeout and reads the
// whole response body.
func (c *Client) doOnce(ctx context.Context, r *request, token string) (int, http.Header, []byte, error) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = c.requestTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(attemptCtx, r, token)
	if err != nil {
		return 0, nil, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return 0, nil, nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	limit := int64(math.MaxInt64)
	if resp.StatusCode >= http.StatusMultipleChoices {
		limit = maxErrorBody
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return 0, nil, nil, fmt.Errorf("%w reading response after %s", ErrTimeout, timeout)
		}

		return 0, nil, nil, fmt.Errorf("reading response: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) newRequest(ctx context.Context, r *request, token string) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimPrefix(r.path, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parsing path %q: %w", r.path, err)
	}

	u := c.baseURL.ResolveReference(ref)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

// getJSON issues an authenticated GET.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, &request{method: http.MethodGet, path: path, query: query})
}

// postJSON issues a POST with a JSON body.
func (c *Client) postJSON(ctx context.Context, path string, payload any, anonymous bool) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("api: encoding %s body: %w", path, err)
	}

	return c.do(ctx, &request{
		method:      http.MethodPost,
		path:        path,
		body:        data,
		contentType: "application/json",
		anonymous:   anonymous,
	})
}

// retryBackoff returns the wait before the next attempt. A 429 with a
// Retry-After header in seconds uses that value.
func (c *Client) retryBackoff(status int, header http.Header, attempt int) time.Duration {
	if status == http.StatusTooManyRequests {
		if ra := header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
