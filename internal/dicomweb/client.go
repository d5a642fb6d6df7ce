// Package dicomweb implements the STOW-RS upload used to ingest objects into
// a DICOMweb server.
package dicomweb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"blob2dicomweb/internal/retry"
)

const (
	// DefaultPath is the STOW-RS endpoint relative to the server URL.
	DefaultPath = "/studies"

	contentTypeDICOM = "application/dicom"
	acceptDICOMJSON  = "application/dicom+json"

	// maxBodyBytes caps how much of a response body is kept for diagnostics.
	maxBodyBytes = 64 << 10
)

// Config contains ingestion client configuration.
type Config struct {
	URL         string
	Path        string
	BearerToken string
	Timeout     time.Duration
}

// Client posts DICOM instances to a DICOMweb server.
type Client struct {
	endpoint    string
	bearerToken string
	httpClient  *http.Client
}

// NewClient creates a client for cfg.URL. The pool size sizes the idle
// connection pool so every worker can keep a connection alive.
func NewClient(cfg Config, poolSize int) (*Client, error) {
	endpoint, err := joinEndpoint(cfg.URL, cfg.Path)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = poolSize
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
	}

	return &Client{
		endpoint:    endpoint,
		bearerToken: cfg.BearerToken,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

func joinEndpoint(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("server URL must be http or https: %s", base)
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}

// Endpoint returns the STOW-RS URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Store uploads one DICOM instance. Any HTTP status is returned as a
// Response; only transport failures produce an error.
func (c *Client) Store(ctx context.Context, data []byte) (retry.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return retry.Response{}, err
	}
	req.Header.Set("Accept", acceptDICOMJSON)
	req.Header.Set("Content-Type", contentTypeDICOM)
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return retry.Response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	// Drain the rest so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return retry.Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// CloseIdleConnections closes idle keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
