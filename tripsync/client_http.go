package tripsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client performs push/pull RPCs against the sync server. The server resolves
// the user from the bearer token; the client never sends a user id.
type Client struct {
	cfg SyncConfig
	hc  *http.Client
}

// NewClient builds a client with optional timeout override.
func NewClient(cfg SyncConfig) *Client {
	to := cfg.Timeout
	if to == 0 {
		to = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: to},
	}
}

// Pull fetches changes after the device's watermark. An empty entity list
// requests everything.
func (c *Client) Pull(ctx context.Context, req PullRequest) (PullResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(req.LastSyncVersion, 10))
	if len(req.EntityTypes) > 0 {
		q.Set("entities", strings.Join(req.EntityTypes, ","))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/sync/pull?"+q.Encode(), nil)
	if err != nil {
		return PullResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return PullResponse{}, fmt.Errorf("pull: %w: %v", ErrNetworkFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return PullResponse{}, statusError("pull", resp.StatusCode)
	}

	var out PullResponse
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// Push uploads a batch of edits. A conflict outcome is a normal response, not
// an error: inspect PushResponse.Status.
func (c *Client) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return PushResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/sync/push", bytes.NewReader(reqBody))
	if err != nil {
		return PushResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return PushResponse{}, fmt.Errorf("push: %w: %v", ErrNetworkFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// 409 carries the structured conflict report in the same response shape.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return PushResponse{}, statusError("push", resp.StatusCode)
	}

	var out PushResponse
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

func statusError(op string, code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s failed: %w (status %d)", op, ErrUnauthorized, code)
	case code >= 500:
		return fmt.Errorf("%s failed: %w (status %d)", op, ErrServerError, code)
	default:
		return fmt.Errorf("%s failed: status %d", op, code)
	}
}
