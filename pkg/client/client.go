package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gymbell/gymbell/pkg/domain"
)

// DefaultTimeout bounds every request unless overridden with WithTimeout.
const DefaultTimeout = 30 * time.Second

// Client is the notification backend API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a new API client.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the response wrapper every backend endpoint returns.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// --- Push ---

// VAPIDPublicKey fetches the base64url application-server key used to
// create push subscriptions.
func (c *Client) VAPIDPublicKey(ctx context.Context) (string, error) {
	var resp struct {
		Success   bool   `json:"success"`
		PublicKey string `json:"publicKey"`
		Message   string `json:"message,omitempty"`
	}
	if err := c.get(ctx, "/push/vapid-public-key", &resp); err != nil {
		return "", fmt.Errorf("client.VAPIDPublicKey: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("client.VAPIDPublicKey: %w", &APIError{Message: resp.Message})
	}
	if resp.PublicKey == "" {
		return "", fmt.Errorf("client.VAPIDPublicKey: %w", &APIError{Message: "backend returned an empty public key"})
	}
	return resp.PublicKey, nil
}

// SubscribePush registers a push subscription for the authenticated member.
func (c *Client) SubscribePush(ctx context.Context, sub domain.PushSubscription) error {
	if err := c.call(ctx, http.MethodPost, "/push/subscribe", sub, nil); err != nil {
		return fmt.Errorf("client.SubscribePush: %w", err)
	}
	return nil
}

// UnsubscribePush removes the subscription identified by endpoint.
func (c *Client) UnsubscribePush(ctx context.Context, endpoint string) error {
	if err := c.call(ctx, http.MethodPost, "/push/unsubscribe", map[string]string{"endpoint": endpoint}, nil); err != nil {
		return fmt.Errorf("client.UnsubscribePush: %w", err)
	}
	return nil
}

// SendTestPush asks the backend to push a test notification to the member.
func (c *Client) SendTestPush(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/push/test", nil, nil); err != nil {
		return fmt.Errorf("client.SendTestPush: %w", err)
	}
	return nil
}

// --- Notifications ---

// ListNotifications returns one page of notifications, most recent first.
func (c *Client) ListNotifications(ctx context.Context, page, limit int) ([]domain.Notification, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	var data struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	if err := c.call(ctx, http.MethodGet, "/notifications?"+params.Encode(), nil, &data); err != nil {
		return nil, fmt.Errorf("client.ListNotifications: %w", err)
	}
	if data.Notifications == nil {
		return []domain.Notification{}, nil
	}
	return data.Notifications, nil
}

// MarkRead marks the given notifications as read.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	if err := c.call(ctx, http.MethodPost, "/notifications/mark-read", map[string][]string{"ids": ids}, nil); err != nil {
		return fmt.Errorf("client.MarkRead: %w", err)
	}
	return nil
}

// MarkAllRead marks every notification of the member as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/notifications/mark-all-read", nil, nil); err != nil {
		return fmt.Errorf("client.MarkAllRead: %w", err)
	}
	return nil
}

// UnreadCount returns the authoritative unread count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var data struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, "/notifications/unread-count", nil, &data); err != nil {
		return 0, fmt.Errorf("client.UnreadCount: %w", err)
	}
	return data.Count, nil
}

// call performs a request and unwraps the success envelope into data.
func (c *Client) call(ctx context.Context, method, path string, body any, data any) error {
	var env envelope
	if err := c.doRequest(ctx, method, path, body, &env); err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Message: env.Message}
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil {
			switch {
			case apiErr.Message != "":
				return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Message}
			case apiErr.Error != "":
				return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
			}
		}
		// Proxies answer with HTML or plain text; that is not a message for
		// the member.
		return &HTTPError{StatusCode: resp.StatusCode, Body: errorBodySnippet(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorBodySnippet keeps the start of a non-JSON error body for logs.
func errorBodySnippet(body []byte) string {
	const limit = 200
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}
