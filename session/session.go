// Package session is the boundary to the auth collaborator: it supplies the
// current credential string and a refresh operation. Credentials are opaque
// to the rest of the client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

var ErrUnauthorized = errors.New("session: unauthorized")

// Source supplies the current credential and refreshes it when the server
// rejects it. Safe for concurrent use.
type Source interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// HTTPSource refreshes sessions against the auth service
// (POST /api/session/refresh with the current credential).
type HTTPSource struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPSource creates a source seeded with an initial credential.
func NewHTTPSource(baseURL, initialToken string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		token:   initialToken,
	}
}

func (s *HTTPSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrUnauthorized
	}
	return s.token, nil
}

// Refresh exchanges the current credential for a fresh one. Concurrent callers
// serialize; all of them observe the token the winning call stored.
func (s *HTTPSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/session/refresh", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session refresh: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		return "", ErrUnauthorized
	}
	s.token = out.Token
	return out.Token, nil
}

// StaticSource is a fixed-credential source for tests and dev shells.
type StaticSource string

func (s StaticSource) Token(ctx context.Context) (string, error)   { return string(s), nil }
func (s StaticSource) Refresh(ctx context.Context) (string, error) { return string(s), nil }
