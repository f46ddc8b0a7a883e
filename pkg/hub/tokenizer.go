// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"k8s.io/klog/v2"
)

// tokenizerConfig is the part of tokenizer_config.json we read. eos_token is either
// a plain string or an AddedToken object carrying the text in "content".
type tokenizerConfig struct {
	EOSToken json.RawMessage `json:"eos_token"`
}

// TokenizerEOS returns the end-of-sequence token declared by the tokenizer of repoID.
func (c *Client) TokenizerEOS(ctx context.Context, repoID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.ResolveURL(repoID, DefaultRevision, TokenizerConfigFile), nil, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", &HubError{Message: fmt.Sprintf("failed to fetch %s of %s", TokenizerConfigFile, repoID), Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", handleHTTPError(resp, repoID, TokenizerConfigFile)
	}

	var cfg tokenizerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return "", fmt.Errorf("failed to decode %s of %s: %w", TokenizerConfigFile, repoID, err)
	}
	eos, err := parseEOSToken(cfg.EOSToken)
	if err != nil {
		return "", fmt.Errorf("%s of %s: %w", TokenizerConfigFile, repoID, err)
	}
	klog.V(2).InfoS("Resolved tokenizer EOS token", "repo", repoID, "eos", eos)
	return eos, nil
}

func parseEOSToken(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("eos_token is not set")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("eos_token is empty")
		}
		return s, nil
	}
	var added struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &added); err != nil {
		return "", fmt.Errorf("unexpected eos_token value %s", string(raw))
	}
	if added.Content == "" {
		return "", fmt.Errorf("eos_token is empty")
	}
	return added.Content, nil
}
