// Package taskrobin is the HTTP client of the mail forwarding service.
package taskrobin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/naming"
	"github.com/nhle/robinsync/internal/source"
)

const userAgent = "robinsync"

// Client is a thin HTTP client for the forwarding service. It never
// retries: every failure is returned to the caller.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	downloadClient *http.Client
	limiter        *rate.Limiter
	logger         *log.Logger
	timeout        time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for API calls. It is copied, never
// modified; its transport is shared with the download client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout, overriding the one of the
// HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDownloadLimiter throttles presigned file downloads.
func WithDownloadLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithPrefix("taskrobin")

	hc := *c.httpClient
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.httpClient = &hc

	// Presigned URLs are already authorized; downloads must not carry a
	// cookie jar or any header of the API client.
	c.downloadClient = &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   c.httpClient.Timeout,
	}

	return c
}

// CreateIntegration registers a forwarding alias for sourceEmail. The
// response is decoded whatever the HTTP status; callers check OK.
func (c *Client) CreateIntegration(
	ctx context.Context,
	sourceEmail string,
	alias string,
) (*CreateIntegrationResponse, error) {
	body := CreateIntegrationRequest{
		UserEmail:  sourceEmail,
		EmailAlias: naming.ForwardingAddress(alias),
	}

	var resp CreateIntegrationResponse
	if err := c.do(ctx, "create integration", http.MethodPost, "/mappings", "", body, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncEmails fetches the manifest for originEmail. The alias is not part
// of the remote contract and is only used for logging.
func (c *Client) SyncEmails(
	ctx context.Context,
	originEmail string,
	token string,
	alias string,
) (*model.Manifest, error) {
	c.logger.Debug("fetching manifest", "origin", originEmail, "alias", alias)

	var manifest model.Manifest
	path := "/emails/" + url.PathEscape(originEmail)
	if err := c.do(ctx, "fetch manifest", http.MethodGet, path, token, nil, &manifest, false); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// DeleteIntegration removes the mapping of alias for originEmail.
func (c *Client) DeleteIntegration(
	ctx context.Context,
	originEmail string,
	alias string,
	token string,
) (*DeleteIntegrationResponse, error) {
	body := DeleteIntegrationRequest{
		UserEmail:   originEmail,
		EmailAlias:  naming.ForwardingAddress(alias),
		AccessToken: token,
	}

	var resp DeleteIntegrationResponse
	if err := c.do(ctx, "delete integration", http.MethodDelete, "/mappings", token, body, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchText downloads a presigned URL as text.
func (c *Client) FetchText(ctx context.Context, fileURL string) (string, error) {
	data, err := c.download(ctx, fileURL)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchBinary downloads a presigned URL as raw bytes.
func (c *Client) FetchBinary(ctx context.Context, fileURL string) ([]byte, error) {
	return c.download(ctx, fileURL)
}

func (c *Client) download(ctx context.Context, fileURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for download slot: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, &source.NetworkError{Op: "download", Err: redactURL(err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &source.NetworkError{Op: "download", Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &source.NetworkError{
			Op:         "download",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	return data, nil
}

// do is the core API method that builds the request, sets auth and decodes
// the JSON response. When anyStatus is set the body is decoded even for a
// non-success status.
func (c *Client) do(
	ctx context.Context,
	op string,
	method string,
	path string,
	token string,
	body interface{},
	result interface{},
	anyStatus bool,
) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &source.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request done",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &source.NetworkError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success && !anyStatus {
		return &source.NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Err:        errorDetail(respBody),
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &source.NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	return nil
}

// errorDetail extracts the "error" field of a JSON error body, if any.
func errorDetail(body []byte) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return nil
	}
	switch {
	case payload.Error != "":
		return errors.New(payload.Error)
	case payload.Message != "":
		return errors.New(payload.Message)
	}
	return nil
}

// redactURL strips the query of presigned URLs from transport errors so
// signatures do not reach the log.
func redactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, parseErr := url.Parse(urlErr.URL)
	if parseErr != nil {
		return urlErr.Err
	}
	u.RawQuery = ""
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}
