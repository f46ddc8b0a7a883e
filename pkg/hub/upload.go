// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

const (
	uploadModeLFS     = "lfs"
	uploadModeRegular = "regular"
)

// UploadFile maps a local file to its path in the repository.
type UploadFile struct {
	PathInRepo string
	LocalPath  string
}

// CommitInfo describes the commit created by UploadFiles.
type CommitInfo struct {
	CommitURL string `json:"commitUrl"`
	CommitOID string `json:"commitOid"`
}

type uploadOperation struct {
	UploadFile
	size       int64
	oid        string
	sample     []byte
	uploadMode string
	ignore     bool
}

type preuploadFile struct {
	Path   string `json:"path"`
	Sample string `json:"sample"`
	Size   int64  `json:"size"`
}

type preuploadRequest struct {
	Files []preuploadFile `json:"files"`
}

type preuploadResponse struct {
	Files []struct {
		Path         string `json:"path"`
		UploadMode   string `json:"uploadMode"`
		ShouldIgnore bool   `json:"shouldIgnore"`
	} `json:"files"`
}

type lfsObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type lfsRef struct {
	Name string `json:"name"`
}

type lfsBatchRequest struct {
	Operation string      `json:"operation"`
	Transfers []string    `json:"transfers"`
	Objects   []lfsObject `json:"objects"`
	HashAlgo  string      `json:"hash_algo"`
	Ref       *lfsRef     `json:"ref,omitempty"`
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

type lfsBatchObject struct {
	OID     string `json:"oid"`
	Size    int64  `json:"size"`
	Actions *struct {
		Upload *lfsAction `json:"upload"`
		Verify *lfsAction `json:"verify"`
	} `json:"actions"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type lfsBatchResponse struct {
	Objects []lfsBatchObject `json:"objects"`
}

type completedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// UploadFiles commits files to the main branch of repoID. Large and binary files are
// uploaded to LFS storage first; files already stored on the hub are not sent again.
func (c *Client) UploadFiles(ctx context.Context, repoID string, files []UploadFile, message string) (*CommitInfo, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to upload to %s", repoID)
	}

	ops, err := c.prepareOperations(ctx, files)
	if err != nil {
		return nil, err
	}
	if err := c.preupload(ctx, repoID, ops); err != nil {
		return nil, fmt.Errorf("preupload to %s failed: %w", repoID, err)
	}
	if err := c.uploadLFSFiles(ctx, repoID, ops); err != nil {
		return nil, err
	}
	info, err := c.commit(ctx, repoID, ops, message)
	if err != nil {
		return nil, fmt.Errorf("commit to %s failed: %w", repoID, err)
	}
	klog.InfoS("Pushed files to hub", "repo", repoID, "files", len(files), "commit", info.CommitOID)
	return info, nil
}

// prepareOperations hashes every file concurrently.
func (c *Client) prepareOperations(ctx context.Context, files []UploadFile) ([]*uploadOperation, error) {
	ops := make([]*uploadOperation, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			op, err := newUploadOperation(f)
			if err != nil {
				return err
			}
			ops[i] = op
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ops, nil
}

func newUploadOperation(f UploadFile) (*uploadOperation, error) {
	fh, err := os.Open(f.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.LocalPath, err)
	}
	defer fh.Close()

	h := sha256.New()
	sample := &limitedBuffer{limit: PreuploadSampleSize}
	size, err := io.Copy(io.MultiWriter(h, sample), fh)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", f.LocalPath, err)
	}
	pathInRepo := strings.TrimPrefix(f.PathInRepo, "/")
	if pathInRepo == "" {
		return nil, fmt.Errorf("empty path in repository for %s", f.LocalPath)
	}
	return &uploadOperation{
		UploadFile: UploadFile{PathInRepo: pathInRepo, LocalPath: f.LocalPath},
		size:       size,
		oid:        hex.EncodeToString(h.Sum(nil)),
		sample:     sample.Bytes(),
		uploadMode: uploadModeRegular,
	}, nil
}

// limitedBuffer keeps the first limit bytes written to it and discards the rest.
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

func (c *Client) preupload(ctx context.Context, repoID string, ops []*uploadOperation) error {
	req := preuploadRequest{}
	for _, op := range ops {
		req.Files = append(req.Files, preuploadFile{
			Path:   op.PathInRepo,
			Sample: base64.StdEncoding.EncodeToString(op.sample),
			Size:   op.size,
		})
	}
	var resp preuploadResponse
	rawURL := fmt.Sprintf("%s/api/models/%s/preupload/%s", c.Endpoint, repoID, DefaultRevision)
	if err := c.doJSON(ctx, http.MethodPost, rawURL, repoID, nil, req, &resp); err != nil {
		return err
	}

	byPath := map[string]*uploadOperation{}
	for _, op := range ops {
		byPath[op.PathInRepo] = op
		if op.size >= LfsFileSizeThreshold {
			op.uploadMode = uploadModeLFS
		}
	}
	for _, f := range resp.Files {
		op, ok := byPath[f.Path]
		if !ok {
			continue
		}
		if f.UploadMode == uploadModeLFS || f.UploadMode == uploadModeRegular {
			op.uploadMode = f.UploadMode
		}
		op.ignore = f.ShouldIgnore
	}
	return nil
}

func (c *Client) uploadLFSFiles(ctx context.Context, repoID string, ops []*uploadOperation) error {
	var lfsOps []*uploadOperation
	for _, op := range ops {
		if op.uploadMode == uploadModeLFS && !op.ignore {
			lfsOps = append(lfsOps, op)
		}
	}
	if len(lfsOps) == 0 {
		return nil
	}

	batchReq := lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		HashAlgo:  "sha256",
		Ref:       &lfsRef{Name: DefaultRevision},
	}
	for _, op := range lfsOps {
		batchReq.Objects = append(batchReq.Objects, lfsObject{OID: op.oid, Size: op.size})
	}
	var batchResp lfsBatchResponse
	headers := map[string]string{AcceptHeader: lfsContentType, ContentTypeHeader: lfsContentType}
	batchURL := fmt.Sprintf("%s/%s.git/info/lfs/objects/batch", c.Endpoint, repoID)
	if err := c.doJSON(ctx, http.MethodPost, batchURL, repoID, headers, batchReq, &batchResp); err != nil {
		return fmt.Errorf("LFS batch request for %s failed: %w", repoID, err)
	}

	byOID := map[string]lfsBatchObject{}
	for _, obj := range batchResp.Objects {
		byOID[obj.OID] = obj
	}

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for _, op := range lfsOps {
		op := op
		g.Go(func() error {
			if err := c.uploadLFSObject(gctx, op, byOID[op.oid]); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", op.PathInRepo, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("LFS upload to %s failed: %w", repoID, err)
	}
	return nil
}

func (c *Client) uploadLFSObject(ctx context.Context, op *uploadOperation, obj lfsBatchObject) error {
	if obj.OID == "" {
		return fmt.Errorf("object %s missing from LFS batch response", op.oid)
	}
	if obj.Error != nil {
		return NewHTTPError(obj.Error.Message, obj.Error.Code, "")
	}
	if obj.Actions == nil || obj.Actions.Upload == nil {
		klog.V(2).InfoS("LFS object already stored", "path", op.PathInRepo, "oid", op.oid)
		return nil
	}

	upload := obj.Actions.Upload
	if _, multipart := upload.Header["chunk_size"]; multipart {
		if err := c.uploadMultipart(ctx, op, upload); err != nil {
			return err
		}
	} else if err := c.uploadSingle(ctx, op, upload); err != nil {
		return err
	}
	klog.InfoS("Uploaded LFS object", "path", op.PathInRepo, "size", op.size)

	if verify := obj.Actions.Verify; verify != nil {
		if err := c.doJSON(ctx, http.MethodPost, verify.Href, "", verify.Header, lfsObject{OID: op.oid, Size: op.size}, nil); err != nil {
			return fmt.Errorf("LFS verify failed: %w", err)
		}
	}
	return nil
}

func (c *Client) uploadSingle(ctx context.Context, op *uploadOperation, action *lfsAction) error {
	fh, err := os.Open(op.LocalPath)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = c.putStorage(ctx, action.Href, action.Header, fh, 0, op.size)
	return err
}

// uploadMultipart sends the file in chunk_size pieces to the presigned part URLs
// and then reports the part ETags to the completion URL.
func (c *Client) uploadMultipart(ctx context.Context, op *uploadOperation, action *lfsAction) error {
	chunkSize, err := strconv.ParseInt(action.Header["chunk_size"], 10, 64)
	if err != nil || chunkSize <= 0 {
		return fmt.Errorf("invalid multipart chunk_size %q", action.Header["chunk_size"])
	}
	var partNumbers []int
	for key := range action.Header {
		if n, err := strconv.Atoi(key); err == nil {
			partNumbers = append(partNumbers, n)
		}
	}
	sort.Ints(partNumbers)
	if want := (op.size + chunkSize - 1) / chunkSize; int64(len(partNumbers)) != want {
		return fmt.Errorf("expected %d multipart URLs, got %d", want, len(partNumbers))
	}

	fh, err := os.Open(op.LocalPath)
	if err != nil {
		return err
	}
	defer fh.Close()

	parts := make([]completedPart, 0, len(partNumbers))
	for i, n := range partNumbers {
		offset := int64(i) * chunkSize
		length := chunkSize
		if offset+length > op.size {
			length = op.size - offset
		}
		etag, err := c.putStorage(ctx, action.Header[strconv.Itoa(n)], nil, fh, offset, length)
		if err != nil {
			return fmt.Errorf("part %d: %w", n, err)
		}
		parts = append(parts, completedPart{PartNumber: i + 1, ETag: etag})
	}

	payload := map[string]interface{}{"oid": op.oid, "parts": parts}
	headers := map[string]string{AcceptHeader: lfsContentType, ContentTypeHeader: lfsContentType}
	return c.doJSON(ctx, http.MethodPost, action.Href, "", headers, payload, nil)
}

// putStorage PUTs size bytes of f starting at offset to a presigned storage URL.
// The hub token is not sent. Transient failures are retried from offset.
func (c *Client) putStorage(ctx context.Context, rawURL string, headers map[string]string, f io.ReaderAt, offset, size int64) (string, error) {
	var etag string
	err := c.withRetry(ctx, "storage upload", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, io.NewSectionReader(f, offset, size))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.ContentLength = size
		for k, v := range headers {
			if k == "chunk_size" {
				continue
			}
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			u, _ := url.Parse(rawURL)
			host := ""
			if u != nil {
				host = u.Host
			}
			return &HubError{Message: fmt.Sprintf("upload to %s failed", host), Cause: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return NewHTTPError("storage upload rejected", resp.StatusCode, readErrorBody(resp))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		etag = resp.Header.Get("ETag")
		return nil
	})
	return etag, err
}

type commitLine struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

func (c *Client) commit(ctx context.Context, repoID string, ops []*uploadOperation, message string) (*CommitInfo, error) {
	if message == "" {
		message = "Upload files with sqltune"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	lines := []commitLine{{Key: "header", Value: map[string]string{"summary": message, "description": ""}}}
	for _, op := range ops {
		if op.ignore {
			klog.V(2).InfoS("Skipping file ignored by the hub", "path", op.PathInRepo)
			continue
		}
		if op.uploadMode == uploadModeLFS {
			lines = append(lines, commitLine{Key: "lfsFile", Value: map[string]interface{}{
				"path": op.PathInRepo,
				"algo": "sha256",
				"oid":  op.oid,
				"size": op.size,
			}})
			continue
		}
		content, err := os.ReadFile(op.LocalPath)
		if err != nil {
			return nil, err
		}
		lines = append(lines, commitLine{Key: "file", Value: map[string]string{
			"path":     op.PathInRepo,
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
		}})
	}
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}

	rawURL := fmt.Sprintf("%s/api/models/%s/commit/%s", c.Endpoint, repoID, DefaultRevision)
	payload := buf.Bytes()
	var info CommitInfo
	err := c.withRetry(ctx, "commit", func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodPost, rawURL, bytes.NewReader(payload), map[string]string{ContentTypeHeader: ndjsonContentType})
		if err != nil {
			return err
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return &HubError{Message: "commit request failed", Cause: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return handleHTTPError(resp, repoID, "")
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return fmt.Errorf("failed to decode commit response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) workers() int {
	if c.MaxUploadWorkers > 0 {
		return c.MaxUploadWorkers
	}
	return DefaultMaxUploadWorkers
}
