// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package ollama

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sqltune/sqltune/pkg/hub"
	"github.com/sqltune/sqltune/pkg/modelfile"
	"github.com/sqltune/sqltune/pkg/utils/consts"
	"k8s.io/klog/v2"
)

// Client registers models with an Ollama server.
type Client struct {
	Host       string
	HTTPClient *http.Client
}

func NewClient(host string) *Client {
	return &Client{
		Host:       strings.TrimRight(host, "/"),
		HTTPClient: hub.GetHTTPClient(),
	}
}

// APIError is an error reported by the Ollama server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama: HTTP %d: %s", e.StatusCode, e.Message)
}

type createRequest struct {
	Model      string                 `json:"model"`
	Files      map[string]string      `json:"files"`
	Template   string                 `json:"template,omitempty"`
	System     string                 `json:"system,omitempty"`
	License    string                 `json:"license,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Stream     bool                   `json:"stream"`
}

// Register uploads the GGUF file the Modelfile in modelDir points at and creates
// the model name from it.
func (c *Client) Register(ctx context.Context, name, modelDir string) error {
	content, err := os.ReadFile(filepath.Join(modelDir, consts.ModelfileName))
	if err != nil {
		return err
	}
	mf, err := modelfile.Parse(string(content))
	if err != nil {
		return err
	}
	ggufPath := mf.From
	if !filepath.IsAbs(ggufPath) {
		ggufPath = filepath.Join(modelDir, ggufPath)
	}

	digest, err := c.PushBlob(ctx, ggufPath)
	if err != nil {
		return err
	}

	req := createRequest{
		Model:      name,
		Files:      map[string]string{filepath.Base(ggufPath): digest},
		Template:   mf.Template,
		System:     mf.System,
		License:    mf.License,
		Parameters: convertParameters(mf.Parameters),
	}
	if err := c.post(ctx, "/api/create", req); err != nil {
		return fmt.Errorf("failed to create ollama model %s: %w", name, err)
	}
	klog.InfoS("Registered model with ollama", "model", name, "host", c.Host, "digest", digest)
	return nil
}

// PushBlob uploads a file to the blob store unless the server already has it and returns its digest.
func (c *Client) PushBlob(ctx context.Context, path string) (string, error) {
	digest, size, err := fileDigest(path)
	if err != nil {
		return "", err
	}
	blobURL := fmt.Sprintf("%s/api/blobs/%s", c.Host, digest)

	head, err := http.NewRequestWithContext(ctx, http.MethodHead, blobURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(head)
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		klog.V(2).InfoS("Blob already present on ollama", "digest", digest)
		return digest, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, blobURL, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
	resp, err = c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}
	klog.InfoS("Uploaded blob to ollama", "path", path, "digest", digest, "size", size)
	return digest, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	var status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil && err != io.EOF {
		return fmt.Errorf("ollama: failed to decode response: %w", err)
	}
	if status.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: status.Error}
	}
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), size, nil
}

// convertParameters turns Modelfile parameter values into the JSON types the create API expects.
// stop is always a list; other parameters become numbers or booleans when they parse as such.
func convertParameters(params map[string][]string) map[string]interface{} {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, values := range params {
		if k == "stop" {
			out[k] = values
			continue
		}
		v := values[len(values)-1]
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = i
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out
}
