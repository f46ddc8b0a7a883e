// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package hub

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"k8s.io/klog/v2"
)

type createRepoRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Private      bool   `json:"private"`
	Type         string `json:"type"`
}

// CreateRepo creates the model repository repoID ("owner/name"). An existing repository is not an error.
func (c *Client) CreateRepo(ctx context.Context, repoID string, private bool) error {
	owner, name, ok := strings.Cut(repoID, "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("invalid repo id %q, expected owner/name", repoID)
	}
	payload := createRepoRequest{
		Name:         name,
		Organization: owner,
		Private:      private,
		Type:         "model",
	}
	err := c.doJSON(ctx, http.MethodPost, c.Endpoint+"/api/repos/create", repoID, nil, payload, nil)
	if StatusCode(err) == http.StatusConflict {
		klog.InfoS("Hub repository already exists", "repo", repoID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create repository %s: %w", repoID, err)
	}
	klog.InfoS("Created hub repository", "repo", repoID, "private", private)
	return nil
}
