// Package credential talks to the widget token endpoints of a tenant API.
package credential

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/moweilong/widgetauth/pkg/version"
)

const (
	// MintPath exchanges an owner token for a widget token.
	MintPath = "/auth/widget-token"
	// RefreshPath exchanges a widget token for a renewed one.
	RefreshPath = "/auth/widget-refresh"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 1 << 20

	defaultTimeout = 30 * time.Second
)

// Op names a credential operation.
type Op string

const (
	OpMint    Op = "mint"
	OpRefresh Op = "refresh"
)

// Client calls the mint and refresh endpoints below one API base URL.
type Client struct {
	apiBase    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for credential calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// NewClient creates a Client for apiBase. Trailing slashes are ignored.
func NewClient(apiBase string, opts ...Option) *Client {
	c := &Client{
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  version.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIBase returns the normalized base URL.
func (c *Client) APIBase() string {
	return c.apiBase
}

// Mint exchanges ownerToken for a new widget token. The owner token is sent
// as the Authorization value as is.
func (c *Client) Mint(ctx context.Context, ownerToken string) (string, error) {
	header := http.Header{}
	if ownerToken != "" {
		header.Set("Authorization", ownerToken)
	}
	return c.call(ctx, OpMint, MintPath, header, map[string]any{})
}

// Refresh exchanges current for a renewed widget token.
func (c *Client) Refresh(ctx context.Context, current string) (string, error) {
	return c.call(ctx, OpRefresh, RefreshPath, http.Header{}, map[string]any{"token": current})
}

func (c *Client) call(ctx context.Context, op Op, path string, header http.Header, body any) (string, error) {
	data, err := sonic.Marshal(body)
	if err != nil {
		return "", &AcquisitionError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return "", &AcquisitionError{Op: op, Err: err}
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AcquisitionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload := decodePayload(io.LimitReader(resp.Body, maxBodyBytes))

	token, _ := payload["token"].(string)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || token == "" {
		return "", &AcquisitionError{Op: op, Status: resp.StatusCode, Payload: payload}
	}
	return token, nil
}

// decodePayload parses r as a JSON object. Anything else yields an empty map.
func decodePayload(r io.Reader) map[string]any {
	raw, err := io.ReadAll(r)
	if err != nil || len(raw) == 0 {
		return map[string]any{}
	}

	var payload map[string]any
	if err := sonic.Unmarshal(raw, &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}
