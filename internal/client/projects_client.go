package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/httpclient"
)

// ProjectsClient is a client for the external project registry. It
// satisfies service.ProjectRegistry.
type ProjectsClient struct {
	client *httpclient.Client
}

// NewProjectsClient creates a new project registry client
func NewProjectsClient(baseURL string, timeout time.Duration) *ProjectsClient {
	return &ProjectsClient{
		client: httpclient.NewClient(baseURL, httpclient.WithTimeout(timeout)),
	}
}

// Exists reports whether the registry knows projectID. A 404 means the
// project does not exist; any other failure is an error.
func (c *ProjectsClient) Exists(ctx context.Context, projectID string) (bool, error) {
	path := fmt.Sprintf("/api/v1/projects/get?id=%s", url.QueryEscape(projectID))

	var resp ProjectResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to query project registry")
	}

	return resp.ID == projectID, nil
}
