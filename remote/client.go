// Package remote implements the minimal JSON-over-HTTP client this agent
// uses to talk to the coordinator API: one POST per call, no retries, a
// short fixed timeout.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"emperror.dev/errors"

	"github.com/turku/storage-agent/config"
)

// ErrTransport wraps network-level failures (dial, timeout, TLS).
var ErrTransport = errors.Sentinel("remote: transport error")

// ErrAPI wraps a non-2xx or non-JSON response from the coordinator.
var ErrAPI = errors.Sentinel("remote: api error")

const defaultTimeout = 5 * time.Second

// Option configures a Client at construction time.
type Option func(*Client)

// Client is a small wrapper around http.Client pre-configured with the
// coordinator's base URL, optional basic identity, and any custom headers
// an operator's reverse proxy requires.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	credID        string
	credToken     string
	customHeaders map[string]string
}

// New constructs a Client targeting baseURL. Options customize credentials
// and headers; none are required to get a usable client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a Client targeting cfg.ApiURL, wiring in
// cfg.CustomHeaders when present. Both the ping session engine and the
// update-config command construct their client this way.
func NewFromConfig(cfg *config.Configuration) *Client {
	var opts []Option
	if len(cfg.CustomHeaders) > 0 {
		opts = append(opts, WithCustomHeaders(cfg.CustomHeaders))
	}
	return New(cfg.ApiURL, opts...)
}

// WithCredentials attaches an id/token pair sent as HTTP basic auth on
// every request. Either side of the contract - storage identity or
// registration credentials - can be carried this way; this agent instead
// puts its identity in the JSON body per the API's documented shape
// (storage_ping_checkin et al.), so this option exists primarily for
// deployments that also terminate an authenticating proxy in front of the
// coordinator.
func WithCredentials(id, token string) Option {
	return func(c *Client) {
		c.credID = id
		c.credToken = token
	}
}

// WithCustomHeaders attaches extra static headers to every request, for
// environments that front the API server with an authenticating reverse
// proxy (e.g. Cloudflare Access service tokens).
func WithCustomHeaders(headers map[string]string) Option {
	return func(c *Client) {
		if len(headers) == 0 {
			return
		}
		if c.customHeaders == nil {
			c.customHeaders = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.customHeaders[k] = v
		}
	}
}

// Call POSTs body (marshaled to JSON) to <baseURL>/<cmd> and decodes the
// JSON response into out. Non-2xx responses and bodies that don't parse as
// JSON are reported as ErrAPI; everything below the HTTP layer is ErrTransport.
func (c *Client) Call(ctx context.Context, cmd string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.WithMessage(err, "remote: failed to encode request body")
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return errors.WithMessagef(ErrTransport, "remote: failed to build request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.credID != "" {
		req.SetBasicAuth(c.credID, c.credToken)
	}
	for k, v := range c.customHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WithMessagef(ErrTransport, "remote: request to %s failed: %s", cmd, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithMessagef(ErrTransport, "remote: failed reading response from %s: %s", cmd, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.WithMessagef(ErrAPI, "remote: %s returned status %d: %s", cmd, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.WithMessagef(ErrAPI, "remote: %s returned non-JSON response: %s", cmd, err)
	}
	return nil
}
