// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HubError represents a generic Hub error
type HubError struct {
	Message string
	Cause   error
}

func (e *HubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *HubError) Unwrap() error {
	return e.Cause
}

// HTTPError represents an HTTP error from the Hub
type HTTPError struct {
	*HubError
	StatusCode int
	// Body holds the start of the response body, for diagnostics.
	Body string
}

func NewHTTPError(message string, statusCode int, body string) *HTTPError {
	return &HTTPError{
		HubError:   &HubError{Message: message},
		StatusCode: statusCode,
		Body:       body,
	}
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Message, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code. It is promoted to the specific error types.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// RepositoryNotFoundError is returned when a repository does not exist or the token cannot see it.
type RepositoryNotFoundError struct {
	*HTTPError
	RepoID string
}

func NewRepositoryNotFoundError(repoID string, statusCode int, body string) *RepositoryNotFoundError {
	return &RepositoryNotFoundError{
		HTTPError: NewHTTPError(fmt.Sprintf("Repository '%s' not found", repoID), statusCode, body),
		RepoID:    repoID,
	}
}

// EntryNotFoundError is returned when a file is missing from a repository.
type EntryNotFoundError struct {
	*HTTPError
	RepoID string
	Path   string
}

func NewEntryNotFoundError(repoID, path string, body string) *EntryNotFoundError {
	return &EntryNotFoundError{
		HTTPError: NewHTTPError(fmt.Sprintf("Entry '%s' not found in repository '%s'", path, repoID), http.StatusNotFound, body),
		RepoID:    repoID,
		Path:      path,
	}
}

type httpStatusError interface {
	error
	HTTPStatus() int
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an HTTP error.
func StatusCode(err error) int {
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	return 0
}

// IsRetryable reports whether err is a transport failure or a retryable HTTP status.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := StatusCode(err); code != 0 {
		return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}
	var hubErr *HubError
	// Errors raised while sending the request carry their cause.
	return errors.As(err, &hubErr) && hubErr.Cause != nil
}

// handleHTTPError converts an unsuccessful response to the matching Hub error.
// path is empty for repository-level calls.
func handleHTTPError(resp *http.Response, repoID, path string) error {
	body := readErrorBody(resp)
	switch resp.StatusCode {
	case http.StatusNotFound:
		if path != "" {
			return NewEntryNotFoundError(repoID, path, body)
		}
		return NewRepositoryNotFoundError(repoID, resp.StatusCode, body)
	case http.StatusUnauthorized:
		return NewRepositoryNotFoundError(repoID, resp.StatusCode, body)
	default:
		return NewHTTPError(http.StatusText(resp.StatusCode), resp.StatusCode, body)
	}
}

func readErrorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return strings.TrimSpace(string(data))
}
