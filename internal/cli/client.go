package cli

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

	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/middleware"
)

// MergeResponse is one answer from the merge endpoint. Result is nil when the server rejected
// the request before the pipeline ran.
type MergeResponse struct {
	StatusCode int
	Result     *merge.PhasedMergeResult
	Message    string
}

// MergeClient issues merge requests.
type MergeClient interface {
	Merge(ctx context.Context, wsID string, req merge.MergeRequest) (*MergeResponse, error)
}

// Client talks to the fern HTTP API.
type Client struct {
	baseURL string
	userID  string
	token   string
	http    *http.Client
}

func NewClient(baseURL, userID, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		userID:  userID,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Merge(ctx context.Context, wsID string, body merge.MergeRequest) (*MergeResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	status, raw, err := c.do(ctx, http.MethodPost, c.workspacePath(wsID, "users/merge"), payload)
	if err != nil {
		return nil, err
	}

	res := &MergeResponse{StatusCode: status}
	var envelope struct {
		Message string `json:"message"`
		Partial *bool  `json:"partial"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode merge response (status %d): %w", status, err)
	}
	// only pipeline results carry "partial"
	if envelope.Partial == nil {
		res.Message = envelope.Message
		return res, nil
	}

	var result merge.PhasedMergeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode merge result: %w", err)
	}
	res.Result = &result
	return res, nil
}

func (c *Client) Preview(ctx context.Context, wsID string, body merge.MergeRequest) (*merge.MergePreview, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	status, raw, err := c.do(ctx, http.MethodPost, c.workspacePath(wsID, "users/merge/preview"), payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("preview request failed with status %d: %s", status, errorMessage(raw))
	}

	var preview merge.MergePreview
	if err := json.Unmarshal(raw, &preview); err != nil {
		return nil, fmt.Errorf("failed to decode merge preview: %w", err)
	}
	return &preview, nil
}

func (c *Client) Duplicates(ctx context.Context, wsID, strategy string) (*handlers.DuplicatesResponse, error) {
	path := c.workspacePath(wsID, "users/duplicates")
	if strategy != "" {
		path += "?strategy=" + url.QueryEscape(strategy)
	}

	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("duplicates request failed with status %d: %s", status, errorMessage(raw))
	}

	var res handlers.DuplicatesResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode duplicates response: %w", err)
	}
	return &res, nil
}

func (c *Client) workspacePath(wsID, suffix string) string {
	return fmt.Sprintf("%s/api/v1/workspaces/%s/%s", c.baseURL, url.PathEscape(wsID), suffix)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set(middleware.HeaderUserID, c.userID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
