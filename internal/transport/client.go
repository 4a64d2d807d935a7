// Package transport is the REST client for the device registration API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
)

const (
	registrationsPath = "/push/deviceRegistrations"
	defaultTimeout    = 15 * time.Second
	maxErrorBody      = 64 << 10
)

// Client issues device registration requests.
//
// Every method returns either nil or a *pusherr.Error: Transport when no
// HTTP response was obtained, Server for non-2xx responses.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey authenticates requests with HTTP basic auth. A key of the form
// "name:secret" is split at the first colon.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type registerResponse struct {
	UpdateToken string `json:"updateToken"`
}

type errorEnvelope struct {
	Error struct {
		Code       int    `json:"code"`
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	} `json:"error"`
}

// Register creates the device registration and returns the update token
// issued by the server.
func (c *Client) Register(ctx context.Context, d device.Details) (string, error) {
	var resp registerResponse
	if err := c.do(ctx, http.MethodPost, registrationsPath, "", d, &resp); err != nil {
		return "", err
	}
	if resp.UpdateToken == "" {
		return "", pusherr.Server(http.StatusOK, 0, "registration response has no updateToken")
	}
	return resp.UpdateToken, nil
}

// UpdateRegistration replaces the push recipient of an existing
// registration.
func (c *Client) UpdateRegistration(ctx context.Context, d device.Details) error {
	path := registrationsPath + "/" + url.PathEscape(d.ID)
	return c.do(ctx, http.MethodPatch, path, d.UpdateToken, d.RecipientUpdate(), nil)
}

// Deregister deletes the device registration.
func (c *Client) Deregister(ctx context.Context, d device.Details) error {
	path := registrationsPath + "?" + url.Values{"deviceId": {d.ID}}.Encode()
	return c.do(ctx, http.MethodDelete, path, d.UpdateToken, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pusherr.Transport(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pusherr.Transport(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req, bearer)

	c.logger.Debug("registration request", "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("registration request failed", "method", method, "path", path, "error", err)
		return pusherr.Transport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.serverError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pusherr.Transport(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// authorize prefers the device's update token for requests that act on an
// existing registration.
func (c *Client) authorize(req *http.Request, bearer string) {
	switch {
	case bearer != "":
		req.Header.Set("Authorization", "Bearer "+bearer)
	case c.apiKey != "":
		name, secret, _ := strings.Cut(c.apiKey, ":")
		req.SetBasicAuth(name, secret)
	}
}

func (c *Client) serverError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Error.Message == "" && env.Error.Code == 0 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return pusherr.Server(resp.StatusCode, 0, msg)
	}

	status := env.Error.StatusCode
	if status == 0 {
		status = resp.StatusCode
	}
	return pusherr.Server(status, env.Error.Code, env.Error.Message)
}
