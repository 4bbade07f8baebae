// Package streams implements provider.Provider against the IBM Streams
// build service, the Streams instance REST API and the Cloud Pak for Data
// platform APIs.
package streams

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/pkg/logger"
)

const hostCheckTimeout = 2 * time.Second

// Config contains HTTP client settings
type Config struct {
	Timeout time.Duration
	// InsecureSkipVerify disables TLS verification for self-signed platform certificates
	InsecureSkipVerify bool
}

// Client talks to the remote platform. It holds no credentials; every call
// receives its endpoint and token in a provider.Target.
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a new Streams API client
func NewClient(cfg *Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		logger:     log,
	}
}

type request struct {
	method      string
	url         string
	target      provider.Target
	body        io.Reader
	length      int64
	contentType string
	accept      string
}

// do performs an HTTP request with the target's credentials
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	c.logger.Debug("provider: http request",
		"method", r.method,
		"url", r.url)

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		c.logger.Error("provider: failed to create request", "error", err)
		return nil, fmt.Errorf("create request: %w", err)
	}

	switch {
	case r.target.Token != "":
		req.Header.Set("Authorization", "Bearer "+r.target.Token)
	case r.target.Username != "":
		req.SetBasicAuth(r.target.Username, r.target.Password)
	}
	if r.body != nil {
		contentType := r.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
		if r.length > 0 {
			req.ContentLength = r.length
		}
	}
	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("provider: http request failed",
			"method", r.method,
			"url", r.url,
			"error", err)
		return nil, err
	}

	c.logger.Debug("provider: http response",
		"method", r.method,
		"url", r.url,
		"status", resp.StatusCode)

	return resp, nil
}

// doJSON performs a request, maps non-2xx responses to errors and decodes
// the normalized body into out (which may be nil).
func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}
	return decodeBody(resp.Body, out)
}

// doRaw performs a request and returns the raw 2xx body
func (c *Client) doRaw(ctx context.Context, r request) ([]byte, error) {
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// HostExists implements provider.Provider
func (c *Client) HostExists(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, hostCheckTimeout)
	defer cancel()

	resp, err := c.do(ctx, request{method: http.MethodHead, url: url})
	if err != nil {
		return fmt.Errorf("check host %s: %w", url, err)
	}
	resp.Body.Close()
	return nil
}
