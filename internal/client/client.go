// Package client is a small HTTP client for the share API, used by the
// sharectl command.
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
	"time"
)

// Client talks to a share server over its JSON API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Share mirrors the share object the API returns.
type Share struct {
	ShareID        string     `json:"shareId"`
	FileID         string     `json:"fileId"`
	CreatedBy      string     `json:"createdBy"`
	URL            string     `json:"url"`
	Password       string     `json:"password,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	HasPassword    bool       `json:"hasPassword"`
	AccessCount    uint64     `json:"accessCount"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
	Status         string     `json:"status"`
}

// AccessEntry mirrors one access-log row the API returns.
type AccessEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	IPAddress        string    `json:"ipAddress"`
	UserAgent        string    `json:"userAgent,omitempty"`
	Success          bool      `json:"success"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	BytesTransferred int64     `json:"bytesTransferred,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// do runs a request and decodes the envelope, returning the raw data payload.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		return nil, &APIError{Status: resp.StatusCode, Code: env.Error, Message: env.Message}
	}
	return env.Data, nil
}

// CreateShare mints a share link for a stored file. expiresInDays of 0 takes
// the server default; withPassword asks for a generated password.
func (c *Client) CreateShare(ctx context.Context, fileID, createdBy string, expiresInDays int, withPassword bool) (*Share, error) {
	req := map[string]any{
		"fileId":    fileID,
		"createdBy": createdBy,
	}
	if expiresInDays > 0 {
		req["expiresInDays"] = expiresInDays
	}
	if withPassword {
		req["password"] = "auto-generate"
	}

	data, err := c.do(ctx, http.MethodPost, "/share", req)
	if err != nil {
		return nil, err
	}
	var share Share
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

// ListShares lists shares, optionally filtered by creator and status.
func (c *Client) ListShares(ctx context.Context, createdBy, status string, limit int) ([]Share, int, error) {
	q := url.Values{}
	if createdBy != "" {
		q.Set("userId", createdBy)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/share"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}

	var out struct {
		Shares []Share `json:"shares"`
		Total  int     `json:"total"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, 0, err
	}
	return out.Shares, out.Total, nil
}

// GetShare fetches one share by id.
func (c *Client) GetShare(ctx context.Context, shareID string) (*Share, error) {
	data, err := c.do(ctx, http.MethodGet, "/share/"+url.PathEscape(shareID), nil)
	if err != nil {
		return nil, err
	}
	var share Share
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

// RevokeShare deactivates a share. Only the creator may revoke.
func (c *Client) RevokeShare(ctx context.Context, shareID, userID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/share/"+url.PathEscape(shareID),
		map[string]string{"userId": userID})
	return err
}

// DeleteShare permanently removes a share record and its access log.
func (c *Client) DeleteShare(ctx context.Context, shareID, userID string) error {
	_, err := c.do(ctx, http.MethodPost, "/share/"+url.PathEscape(shareID)+"/permanent-delete",
		map[string]string{"userId": userID})
	return err
}

// AccessLogs fetches the most recent access-log entries for a share.
func (c *Client) AccessLogs(ctx context.Context, shareID string, limit int) ([]AccessEntry, error) {
	path := "/share/" + url.PathEscape(shareID) + "/access"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Logs []AccessEntry `json:"logs"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// Stats fetches server aggregate counters as a generic map.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/stats", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
