package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AuthResult is the subset of a PocketBase auth response devices need.
type AuthResult struct {
	Token  string
	UserID string
	Email  string
}

// Client describes the account contract used by the trips CLI.
type Client interface {
	AuthWithPassword(ctx context.Context, identity, password string) (AuthResult, error)
	RefreshAuth(ctx context.Context, token string) (AuthResult, error)
}

// HTTPClient talks to the sync server's PocketBase auth API.
type HTTPClient struct {
	BaseURL string
	Client  *http.Client
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// AuthWithPassword exchanges credentials for a bearer token.
func (c *HTTPClient) AuthWithPassword(ctx context.Context, identity, password string) (AuthResult, error) {
	if c.BaseURL == "" {
		return AuthResult{}, errors.New("server url required")
	}
	if identity == "" || password == "" {
		return AuthResult{}, errors.New("identity and password required")
	}

	payload, err := json.Marshal(map[string]string{
		"identity": identity,
		"password": password,
	})
	if err != nil {
		return AuthResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/collections/users/auth-with-password", bytes.NewReader(payload))
	if err != nil {
		return AuthResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doAuth(req)
}

// RefreshAuth exchanges a still-valid token for a fresh one.
func (c *HTTPClient) RefreshAuth(ctx context.Context, token string) (AuthResult, error) {
	if c.BaseURL == "" {
		return AuthResult{}, errors.New("server url required")
	}
	if token == "" {
		return AuthResult{}, errors.New("token required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/collections/users/auth-refresh", nil)
	if err != nil {
		return AuthResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.doAuth(req)
}

func (c *HTTPClient) doAuth(req *http.Request) (AuthResult, error) {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return AuthResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return AuthResult{}, errors.New("invalid credentials")
		}
		return AuthResult{}, fmt.Errorf("auth: %s", resp.Status)
	}

	var doc struct {
		Token  string `json:"token"`
		Record struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"record"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return AuthResult{}, err
	}
	if doc.Token == "" {
		return AuthResult{}, errors.New("auth response missing token")
	}
	return AuthResult{
		Token:  doc.Token,
		UserID: doc.Record.ID,
		Email:  doc.Record.Email,
	}, nil
}
