// Package stream talks to a hosted Stream Chat compatible delivery provider
// over its REST API.
package stream

import (
	"bytes"
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const DefaultBaseURL = "https://chat.stream-io-api.com"

// maxErrorBody bounds how much of an error response is read for the message.
const maxErrorBody = 4 << 10

var _ contract.Provider = (*Client)(nil)

type Client struct {
	baseURL string
	apiKey  string
	tokens  *auth.TokenIssuer
	http    *http.Client
	log     *slog.Logger
}

func NewClient(log *slog.Logger, baseURL, apiKey string, tokens *auth.TokenIssuer, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		http:    httpClient,
		log:     log,
	}
}

type apiError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"StatusCode"`
}

func (c *Client) UpsertUser(ctx context.Context, user domain.User) error {
	body := map[string]any{
		"users": map[string]domain.User{user.ID: user},
	}
	return c.do(ctx, http.MethodPost, "/users", body, nil)
}

// CreateToken signs a user token locally with the API secret; the provider
// validates it without a round trip.
func (c *Client) CreateToken(_ context.Context, userID string) (string, error) {
	return c.tokens.UserToken(userID)
}

func (c *Client) CreateChannel(ctx context.Context, channelType, channelID, createdBy string) error {
	body := map[string]any{
		"data": map[string]string{"created_by_id": createdBy},
	}
	return c.do(ctx, http.MethodPost, channelPath(channelType, channelID)+"/query", body, nil)
}

func (c *Client) AddMembers(ctx context.Context, channelType, channelID string, userIDs []string) error {
	body := map[string]any{"add_members": userIDs}
	return c.do(ctx, http.MethodPost, channelPath(channelType, channelID), body, nil)
}

func (c *Client) QueryMessages(ctx context.Context, channelType, channelID string, limit int) ([]json.RawMessage, error) {
	body := map[string]any{
		"state":    true,
		"messages": map[string]int{"limit": limit},
	}
	var resp struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodPost, channelPath(channelType, channelID)+"/query", body, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, channelType, channelID string, msg domain.Message) error {
	message := map[string]any{
		"text":     msg.Text,
		"user_id":  msg.SenderID,
		"is_local": msg.Local,
	}
	if msg.ID != "" {
		message["id"] = msg.ID
	}
	body := map[string]any{"message": message}
	return c.do(ctx, http.MethodPost, channelPath(channelType, channelID)+"/message", body, nil)
}

func channelPath(channelType, channelID string) string {
	return "/channels/" + url.PathEscape(channelType) + "/" + url.PathEscape(channelID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("stream %s: encode: %w", path, err)
	}

	endpoint := c.baseURL + path + "?" + url.Values{"api_key": {c.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("stream %s: %w", path, err)
	}
	token, err := c.tokens.ServerToken()
	if err != nil {
		return fmt.Errorf("stream %s: server token: %w", path, err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stream-Client", "chat-relay")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stream %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("stream %s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *Client) statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
		c.log.Debug("Provider call rejected", "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return fmt.Errorf("stream %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("stream %s %s: status %d", method, path, resp.StatusCode)
}
