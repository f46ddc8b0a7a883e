// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package hub

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	// defaultHTTPClient is shared by every hub client for connection reuse.
	defaultHTTPClient *http.Client
	clientOnce        sync.Once
)

// GetHTTPClient returns the pooled HTTP client used for hub and datasets-server calls.
func GetHTTPClient() *http.Client {
	clientOnce.Do(func() {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			Proxy:                 http.ProxyFromEnvironment,
		}

		// No overall timeout: uploads of multi-gigabyte GGUF files are bounded by the caller's context.
		defaultHTTPClient = &http.Client{
			Transport: transport,
		}
	})

	return defaultHTTPClient
}

// NewHTTPClientWithTimeout shares the pooled transport but bounds every request by timeout.
func NewHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: GetHTTPClient().Transport,
		Timeout:   timeout,
	}
}
