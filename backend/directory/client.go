// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package directory is the device-side client of the directory HTTP API.
// It implements storage.Directory so the group manager and the search
// engine can run against a remote server.
package directory

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

	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

const (
	DefaultTimeout = 30 * time.Second
	apiPrefix      = "/api/trust"
)

var (
	ErrUnauthorized = errors.New("invalid or expired token")
	ErrForbidden    = errors.New("access denied")
)

// APIError is a non-2xx response from the directory server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("directory error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("directory error %d", e.StatusCode)
}

// Is maps status codes onto sentinels, 404 and 409 onto the storage ones.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == storage.ErrNotFound
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusConflict:
		return target == storage.ErrConflict
	}
	return false
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ storage.Directory = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New returns a client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("directory URL is required")
	}
	if token == "" {
		return nil, errors.New("token is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) GetPublicKey(ctx context.Context, userID string) (*models.MemberPublicKey, error) {
	var key models.MemberPublicKey
	if err := c.do(ctx, http.MethodGet, "/keys/"+url.PathEscape(userID), nil, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// PublishPublicKey publishes the key of the authenticated user. The server
// takes the user from the token; userID must match it.
func (c *Client) PublishPublicKey(ctx context.Context, userID string, publicKey []byte) error {
	return c.do(ctx, http.MethodPost, "/keys", models.KeyRegistration{PublicKey: publicKey}, nil)
}

func (c *Client) GetGroupSession(ctx context.Context, groupID string) (*models.GroupSession, error) {
	var session models.GroupSession
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID)+"/session", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) PutGroupSession(ctx context.Context, session *models.GroupSession) error {
	return c.do(ctx, http.MethodPut, "/groups/"+url.PathEscape(session.GroupID)+"/session", session, nil)
}

func (c *Client) SaveGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	return c.do(ctx, http.MethodPost, "/groups/"+url.PathEscape(msg.GroupID)+"/messages", msg, nil)
}

func (c *Client) GetGroupMessages(ctx context.Context, groupID string, limit int) ([]models.GroupMessage, error) {
	path := "/groups/" + url.PathEscape(groupID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var messages []models.GroupMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) GetSearchIndex(ctx context.Context, fileID string) (*models.SearchIndex, error) {
	var idx models.SearchIndex
	if err := c.do(ctx, http.MethodGet, "/search/"+url.PathEscape(fileID), nil, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func (c *Client) PutSearchIndex(ctx context.Context, idx *models.SearchIndex) error {
	return c.do(ctx, http.MethodPut, "/search/"+url.PathEscape(idx.FileID), idx, nil)
}

func (c *Client) DeleteSearchIndex(ctx context.Context, fileID string) error {
	return c.do(ctx, http.MethodDelete, "/search/"+url.PathEscape(fileID), nil, nil)
}

// QueryUserSearchIndexes lists the authenticated user's indexes. The server
// scopes the listing by token, so userID must be that user.
func (c *Client) QueryUserSearchIndexes(ctx context.Context, userID string) ([]models.SearchIndex, error) {
	var indexes []models.SearchIndex
	if err := c.do(ctx, http.MethodGet, "/search", nil, &indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}
