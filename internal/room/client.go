// Package room talks to the external video room service that hosts the
// consultation call.
package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is the room-service collaborator.
type Client interface {
	IssueAccessToken(ctx context.Context, identity, roomToken string) (string, error)
	DestroyRoom(ctx context.Context, roomToken string) error
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type accessTokenRequest struct {
	Identity string `json:"identity"`
}

type accessTokenResponse struct {
	Token string `json:"token"`
}

func (c *HTTPClient) IssueAccessToken(ctx context.Context, identity, roomToken string) (string, error) {
	body, err := json.Marshal(accessTokenRequest{Identity: identity})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomToken)+"/tokens", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("issue access token failed with status %d", resp.StatusCode)
	}

	var out accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("room service returned empty token")
	}
	return out.Token, nil
}

func (c *HTTPClient) DestroyRoom(ctx context.Context, roomToken string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(roomToken), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// already gone is as good as destroyed
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("destroy room failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("room service request error")
		return nil, fmt.Errorf("room service request failed: %w", err)
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("room service request")

	return resp, nil
}

// NoopClient is used when no room service is configured.
type NoopClient struct{}

func (NoopClient) IssueAccessToken(ctx context.Context, identity, roomToken string) (string, error) {
	return "", fmt.Errorf("room service not configured")
}

func (NoopClient) DestroyRoom(ctx context.Context, roomToken string) error {
	return nil
}
