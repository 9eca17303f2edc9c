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
	"strings"
	"sync"

	"github.com/comigor/healthchat-go/internal/chat"
	"github.com/comigor/healthchat-go/internal/config"
	"github.com/comigor/healthchat-go/internal/history"
)

// Client talks to the chat backend over HTTP. It serves as the history
// store, the title generator, the reply streamer and the credential source
// of a chat.Controller.
type Client struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a Client for cfg.
func New(cfg config.ClientConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{},
		token:   cfg.Token,
	}
}

// Token returns the bearer token, empty when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// StatusError is a non-success backend response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Message)
}

// Unwrap maps the status to the sentinel errors callers branch on.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized:
		return chat.ErrAuthRequired
	case http.StatusNotFound:
		return history.ErrNotFound
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.Token()))
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// CreateChat creates a record with title and the first messages.
func (c *Client) CreateChat(ctx context.Context, title string, messages []history.Message) (history.Record, error) {
	var rec history.Record
	err := c.call(ctx, http.MethodPost, "/api/chats", map[string]any{
		"title":    title,
		"messages": messages,
	}, &rec)
	if err == nil && rec.ID == "" {
		err = errors.New("backend returned a chat without id")
	}
	return rec, err
}

// UpdateChat overwrites the record id.
func (c *Client) UpdateChat(ctx context.Context, id string, u history.Update) (history.Record, error) {
	var rec history.Record
	err := c.call(ctx, http.MethodPut, "/api/chats/"+url.PathEscape(id), u, &rec)
	return rec, err
}

// DeleteChat deletes the record id.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(id), nil, nil)
}

// ListChats returns the signed-in user's records, most recent first.
func (c *Client) ListChats(ctx context.Context) ([]history.Record, error) {
	var list []history.Record
	err := c.call(ctx, http.MethodGet, "/api/chats", nil, &list)
	return list, err
}

// GetProfile returns the signed-in user's health profile.
func (c *Client) GetProfile(ctx context.Context) (history.Profile, error) {
	var p history.Profile
	err := c.call(ctx, http.MethodGet, "/api/profile", nil, &p)
	return p, err
}

// PutProfile stores the signed-in user's health profile.
func (c *Client) PutProfile(ctx context.Context, p history.Profile) (history.Profile, error) {
	var out history.Profile
	err := c.call(ctx, http.MethodPut, "/api/profile", p, &out)
	return out, err
}

// GenerateTitle asks the backend for a conversation title.
func (c *Client) GenerateTitle(ctx context.Context, sample string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/chat/title", map[string]string{"text": sample}, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// OpenStream starts a reply and returns the raw event stream body.
func (c *Client) OpenStream(ctx context.Context, req chat.StreamRequest) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat/stream", req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

var (
	_ history.Store    = (*Client)(nil)
	_ chat.Titler      = (*Client)(nil)
	_ chat.Streamer    = (*Client)(nil)
	_ chat.Credentials = (*Client)(nil)
)
