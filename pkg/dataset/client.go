// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sqltune/sqltune/pkg/hub"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	DefaultServerEndpoint = "https://datasets-server.huggingface.co"
	// MaxPageSize is the largest page the rows API serves.
	MaxPageSize        = 100
	DefaultConcurrency = 8
)

// DefaultBackoff retries a page for roughly half a minute.
var DefaultBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    6,
}

// Row is one dataset record keyed by column name.
type Row map[string]interface{}

type rowsResponse struct {
	Rows []struct {
		RowIdx int `json:"row_idx"`
		Row    Row `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// RowsClient reads dataset rows from the datasets-server rows API.
type RowsClient struct {
	Endpoint    string
	Token       string
	HTTPClient  *http.Client
	PageSize    int
	Concurrency int
	Backoff     wait.Backoff
}

func NewRowsClient(endpoint, token string) *RowsClient {
	if endpoint == "" {
		endpoint = DefaultServerEndpoint
	}
	return &RowsClient{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		Token:       token,
		HTTPClient:  hub.GetHTTPClient(),
		PageSize:    MaxPageSize,
		Concurrency: DefaultConcurrency,
		Backoff:     DefaultBackoff,
	}
}

// FetchRows returns the rows of a split in dataset order. maxRows <= 0 fetches every row.
// The first page reports the split size; the remaining pages are fetched concurrently.
func (c *RowsClient) FetchRows(ctx context.Context, name, config, split string, maxRows int) ([]Row, error) {
	pageSize := c.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if maxRows > 0 && maxRows < pageSize {
		pageSize = maxRows
	}

	first, err := c.fetchPage(ctx, name, config, split, 0, pageSize)
	if err != nil {
		return nil, err
	}
	total := first.NumRowsTotal
	if maxRows > 0 && maxRows < total {
		total = maxRows
	}
	klog.InfoS("Fetching dataset rows", "dataset", name, "config", config, "split", split, "rows", total)

	numPages := (total + pageSize - 1) / pageSize
	if numPages == 0 {
		return nil, nil
	}
	pages := make([][]Row, numPages)
	pages[0] = pageRows(first)

	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 1; i < numPages; i++ {
		i := i
		g.Go(func() error {
			length := pageSize
			if rest := total - i*pageSize; rest < length {
				length = rest
			}
			resp, err := c.fetchPage(gctx, name, config, split, i*pageSize, length)
			if err != nil {
				return err
			}
			pages[i] = pageRows(resp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, total)
	for _, p := range pages {
		rows = append(rows, p...)
	}
	if len(rows) > total {
		rows = rows[:total]
	}
	return rows, nil
}

func pageRows(resp *rowsResponse) []Row {
	rows := make([]Row, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		rows = append(rows, r.Row)
	}
	return rows
}

// fetchPage requests one page, retrying rate limits, server errors and transport failures with backoff.
func (c *RowsClient) fetchPage(ctx context.Context, name, config, split string, offset, length int) (*rowsResponse, error) {
	q := url.Values{}
	q.Set("dataset", name)
	q.Set("config", config)
	q.Set("split", split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(length))
	rawURL := fmt.Sprintf("%s/rows?%s", c.Endpoint, q.Encode())

	var (
		result  *rowsResponse
		lastErr error
	)
	err := wait.ExponentialBackoffWithContext(ctx, c.Backoff, func(ctx context.Context) (bool, error) {
		resp, err := c.get(ctx, rawURL, name)
		if err == nil {
			result = resp
			return true, nil
		}
		if !hub.IsRetryable(err) {
			return false, err
		}
		lastErr = err
		klog.V(2).InfoS("Retrying dataset page", "dataset", name, "offset", offset, "err", err)
		return false, nil
	})
	if err != nil {
		if lastErr != nil && ctx.Err() == nil {
			err = lastErr
		}
		return nil, fmt.Errorf("failed to fetch rows %d-%d of %s: %w", offset, offset+length, name, err)
	}
	return result, nil
}

func (c *RowsClient) get(ctx context.Context, rawURL, name string) (*rowsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range hub.BuildHeaders(c.Token, hub.DefaultUserAgent, nil) {
		req.Header.Set(k, v)
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = hub.GetHTTPClient()
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &hub.HubError{Message: "rows request failed", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, hub.NewRepositoryNotFoundError(name, resp.StatusCode, "")
	}
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, hub.NewHTTPError(http.StatusText(resp.StatusCode), resp.StatusCode, body.Error)
	}
	var out rowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rows response: %w", err)
	}
	return &out, nil
}
