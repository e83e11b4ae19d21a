package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mkrupp/booksy/internal/domain"
	context_ "github.com/mkrupp/booksy/internal/infra/context"
	"github.com/mkrupp/booksy/internal/infra/logging"
	http_ "github.com/mkrupp/booksy/internal/infra/transport/http"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc"
)

// ErrUnexpectedStatus is returned for responses that map to no domain error.
var ErrUnexpectedStatus = errors.New("unexpected status")

// HTTPClientConfig holds configuration for the HTTP session client.
type HTTPClientConfig struct {
	// ServerURL is the base URL of a running session service
	ServerURL string `env:"SERVER_URL" default:"http://localhost:8080"`
}

// HTTPClient implements SessionClient against a session service over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	log        logging.Logger
	cfg        HTTPClientConfig
}

var _ SessionClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTPClient with the given configuration.
// If httpClient is nil, http.DefaultClient will be used.
func NewHTTPClient(cfg HTTPClientConfig, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return &HTTPClient{
		httpClient: httpClient,
		log:        logging.GetLogger("svc.sessionsvc.http_client"),
		cfg:        cfg,
	}
}

func (c *HTTPClient) Register(
	ctx context.Context,
	email, password, displayName string,
) (resp domain.SessionResponse, err error) {
	req := map[string]string{"email": email, "password": password, "displayName": displayName}
	err = c.do(ctx, http.MethodPost, "/auth/register", req, &resp, domain.ErrNotAuthenticated)

	return resp, err
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (resp domain.SessionResponse, err error) {
	req := map[string]string{"email": email, "password": password}
	err = c.do(ctx, http.MethodPost, "/auth/login", req, &resp, domain.ErrInvalidCredentials)

	return resp, err
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, domain.ErrNotAuthenticated)
}

func (c *HTTPClient) Current(ctx context.Context) (resp domain.SessionResponse, err error) {
	err = c.do(ctx, http.MethodGet, "/auth/session", nil, &resp, domain.ErrNotAuthenticated)

	return resp, err
}

func (c *HTTPClient) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (profile domain.Profile, err error) {
	err = c.do(ctx, http.MethodPatch, "/profile", upd, &profile, domain.ErrNotAuthenticated)

	return profile, err
}

// do sends body as JSON and decodes a successful response into out.
// unauthorized is the error reported for 401 responses.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any, unauthorized error) (err error) {
	log := c.log.With(logging.Group("http", "method", method, "path", path))

	defer func() {
		if err != nil {
			log.DebugContext(ctx, "request failed", "error", err)
		} else {
			log.DebugContext(ctx, "request done")
		}
	}()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ServerURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if traceID, ok := context_.TraceIDFromContext(ctx); ok {
		req.Header.Set(http_.TraceIDHeader, traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errorOf(resp, unauthorized)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func errorOf(resp *http.Response, unauthorized error) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch resp.StatusCode {
	case http.StatusConflict:
		return domain.ErrDuplicateEmail
	case http.StatusUnauthorized:
		return unauthorized
	case http.StatusBadRequest:
		return domain.ErrEmptyField
	case http.StatusTooManyRequests:
		return sessionsvc.ErrRateLimited
	case http.StatusNotFound:
		return domain.ErrProfileNotFound
	default:
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}
