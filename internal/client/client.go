// Package client talks to a running coach server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ZaguanLabs/coach/internal/coach"
	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/insights"
)

const defaultTimeout = 120 * time.Second

// Client implements coach.Backend against the HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ coach.Backend = (*Client)(nil)

// New creates a client for the server at baseURL. A nil httpClient gets a
// default one with a generous timeout, since replies wait on the provider.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("server URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, coachErrors.NewConfigError("server.url", fmt.Sprintf("invalid server URL %q", baseURL), err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}, nil
}

// Health reports the server status and the provider it runs.
func (c *Client) Health(ctx context.Context) (status, provider string, err error) {
	var resp struct {
		Status   string `json:"status"`
		Provider string `json:"provider"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return "", "", err
	}
	return resp.Status, resp.Provider, nil
}

// Reply calls the stateless coach route.
func (c *Client) Reply(ctx context.Context, message string, history []conversation.Turn) (string, error) {
	if history == nil {
		history = []conversation.Turn{}
	}
	body := map[string]any{"message": message, "history": history}
	var resp struct {
		Reply string `json:"reply"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/coach", body, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// Send posts a message to a stored conversation.
func (c *Client) Send(ctx context.Context, id, text string) (*conversation.Exchange, error) {
	var ex conversation.Exchange
	if err := c.do(ctx, http.MethodPost, convPath(id, "messages"), map[string]string{"content": text}, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

// Conversation fetches a conversation, creating it on first access.
func (c *Client) Conversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := c.do(ctx, http.MethodGet, convPath(id, ""), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// List returns conversation summaries, newest first. limit <= 0 lists all.
func (c *Client) List(ctx context.Context, limit int) ([]conversation.Summary, error) {
	path := "/api/conversations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Conversations []conversation.Summary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Create starts a new conversation.
func (c *Client) Create(ctx context.Context, title string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", map[string]string{"title": title}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Rename changes a conversation title.
func (c *Client) Rename(ctx context.Context, id, title string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := c.do(ctx, http.MethodPatch, convPath(id, ""), map[string]string{"title": title}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Reset clears a conversation.
func (c *Client) Reset(ctx context.Context, id string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := c.do(ctx, http.MethodPost, convPath(id, "reset"), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Delete removes a conversation.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, convPath(id, ""), nil, nil)
}

// PreviewInsights computes insights without storing them.
func (c *Client) PreviewInsights(ctx context.Context, id string, profile insights.Profile) (*conversation.Insights, error) {
	return c.insights(ctx, http.MethodGet, id, profile)
}

// ApplyInsights recomputes and stores insights.
func (c *Client) ApplyInsights(ctx context.Context, id string, profile insights.Profile) (*conversation.Insights, error) {
	return c.insights(ctx, http.MethodPost, id, profile)
}

func (c *Client) insights(ctx context.Context, method, id string, profile insights.Profile) (*conversation.Insights, error) {
	path := convPath(id, "insights")
	if profile != "" {
		path += "?profile=" + url.QueryEscape(string(profile))
	}
	var ins conversation.Insights
	if err := c.do(ctx, method, path, nil, &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

func convPath(id, suffix string) string {
	p := "/api/conversations/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return errors.New("client is nil")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return coachErrors.NewNetworkError(c.baseURL, "request failed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return c.decodeError(target, bodyBytes, resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return coachErrors.NewNetworkError(c.baseURL, "decode response", resp.StatusCode, err)
	}
	return nil
}

// decodeError maps the server's {error, code} body back onto the error
// types the service itself returns, so callers can branch the same way in
// local and remote mode.
func (c *Client) decodeError(target string, body []byte, status int) error {
	var apiErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.Unmarshal(body, &apiErr)

	message := apiErr.Error
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case apiErr.Code == "NOT_FOUND" || status == http.StatusNotFound:
		return coachErrors.NewConversationError("", message, coachErrors.ErrConversationNotFound)
	case apiErr.Code == "BUSY" || status == http.StatusConflict:
		return coachErrors.NewConversationError("", message, coachErrors.ErrConversationBusy)
	case status == http.StatusBadRequest:
		return coachErrors.NewValidationError("request", message, nil, nil)
	case strings.HasPrefix(apiErr.Code, "PROVIDER_"):
		upstream, _ := strconv.Atoi(strings.TrimPrefix(apiErr.Code, "PROVIDER_"))
		return coachErrors.NewProviderError("remote", upstream, message, nil)
	default:
		return coachErrors.NewNetworkError(target, message, status, nil)
	}
}
