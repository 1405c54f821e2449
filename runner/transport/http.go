package transport

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

	"github.com/izavyalov-dev/treebeard-action/protocol"
)

// DefaultBaseURL is the usage logging endpoint.
const DefaultBaseURL = "https://api.treebeard.io"

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// PostUsage sends a usage log for repository/runID. It returns true only when
// the server answers 200 with an empty body, which is how delivery is confirmed.
func (c *HTTPClient) PostUsage(ctx context.Context, repository, runID string, log protocol.UsageLog) (bool, error) {
	if repository == "" || runID == "" {
		return false, fmt.Errorf("repository and run id are required")
	}
	path := "/" + escapePath(repository) + "/" + url.PathEscape(runID) + "/log"
	status, body, err := c.post(ctx, path, log)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK && len(body) == 0, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return resp.StatusCode, respBody, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.StatusCode, respBody, nil
}

// escapePath escapes each segment of owner/name.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
