// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// DefaultBackoff retries a storage upload or commit for roughly half a minute.
var DefaultBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    6,
}

// Client talks to the Hugging Face Hub HTTP API.
type Client struct {
	Endpoint   string
	Token      string
	UserAgent  string
	HTTPClient *http.Client
	// MaxUploadWorkers bounds concurrent LFS uploads.
	MaxUploadWorkers int
	// Backoff paces retries of storage uploads and commits.
	Backoff wait.Backoff
}

func NewClient(endpoint, token string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint:         strings.TrimRight(endpoint, "/"),
		Token:            token,
		UserAgent:        DefaultUserAgent,
		HTTPClient:       GetHTTPClient(),
		MaxUploadWorkers: DefaultMaxUploadWorkers,
		Backoff:          DefaultBackoff,
	}
}

// BuildHeaders builds HTTP headers for requests
func BuildHeaders(token, userAgent string, extraHeaders map[string]string) map[string]string {
	headers := make(map[string]string)

	if userAgent != "" {
		headers[UserAgentHeader] = userAgent
	}
	if token != "" {
		headers[AuthorizationHeader] = "Bearer " + token
	}
	for k, v := range extraHeaders {
		headers[k] = v
	}

	return headers
}

// ResolveURL is the download URL of a file in a model repository.
func (c *Client) ResolveURL(repoID, revision, filename string) string {
	if revision == "" {
		revision = DefaultRevision
	}
	parts := strings.Split(filename, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.Endpoint, repoID, url.PathEscape(revision), strings.Join(parts, "/"))
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range BuildHeaders(c.Token, c.UserAgent, headers) {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return GetHTTPClient()
}

// withRetry calls fn until it succeeds, returns an error IsRetryable rejects, or the backoff is spent.
// The last retryable error is returned when the backoff runs out.
func (c *Client) withRetry(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	backoff := c.Backoff
	if backoff.Steps <= 0 {
		backoff = DefaultBackoff
	}
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		if !IsRetryable(err) {
			return false, err
		}
		lastErr = err
		klog.V(2).InfoS("Retrying hub request", "request", what, "err", err)
		return false, nil
	})
	if wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil {
		return lastErr
	}
	return err
}

// doJSON sends payload as JSON and decodes a successful response into out when out is non-nil.
// Any status outside 2xx is converted with handleHTTPError.
func (c *Client) doJSON(ctx context.Context, method, rawURL, repoID string, headers map[string]string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		if headers == nil {
			headers = map[string]string{}
		}
		if _, ok := headers[ContentTypeHeader]; !ok {
			headers[ContentTypeHeader] = "application/json"
		}
	}
	req, err := c.newRequest(ctx, method, rawURL, body, headers)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &HubError{Message: fmt.Sprintf("%s %s failed", method, rawURL), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleHTTPError(resp, repoID, "")
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
