// Package rest is the HTTP side of the messaging subsystem: snapshot fetch,
// unread count, mark-read and send. It is also the safety net when the
// real-time channel is degraded.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/proto"
)

// ErrUnauthorized is returned on 401 responses. The caller treats it as
// "handled elsewhere": session expiry belongs to the auth subsystem.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the portal API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// Client talks to the portal messaging API.
type Client struct {
	baseURL string
	httpc   *http.Client
	creds   identity.Provider
	log     *zerolog.Logger
}

// NewClient builds a REST client for the given base URL.
func NewClient(baseURL string, creds identity.Provider, timeout time.Duration, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		creds:   creds,
		log:     logger,
	}
}

// envelope mirrors the portal's {status, ...} response shape.
type envelope struct {
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Count    int             `json:"count,omitempty"`
	Messages []proto.Message `json:"messages,omitempty"`
	Data     *proto.Message  `json:"data,omitempty"`
}

// Conversation fetches the full message log for the admin conversation.
func (c *Client) Conversation(ctx context.Context) ([]proto.Message, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/messages/admin/conversation", nil, "", &env); err != nil {
		return nil, err
	}
	return env.Messages, nil
}

// UnreadCount fetches the current unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/messages/unread/count", nil, "", &env); err != nil {
		return 0, err
	}
	return env.Count, nil
}

// MarkRead marks a single message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/messages/%s/read", messageID)
	return c.do(ctx, http.MethodPut, path, nil, "", nil)
}

// Send posts a message with optional attachments as multipart form data and
// returns the server-assigned message.
func (c *Client) Send(ctx context.Context, content string, files []Upload) (*proto.Message, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("content", content); err != nil {
		return nil, fmt.Errorf("write content field: %w", err)
	}
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Filename)
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, fmt.Errorf("copy attachment %s: %w", f.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var env envelope
	if err := c.do(ctx, http.MethodPost, "/messages/send", &body, writer.FormDataContentType(), &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("send response carries no message")
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out *envelope) error {
	cred, err := c.creds.Credential()
	if err != nil {
		return fmt.Errorf("resolve credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env envelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&env); decodeErr == nil {
			apiErr.Message = env.Message
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("api request failed")
		return apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
