// Package remote abstracts the wire calls to the authoritative server:
// pulling assigned work, pushing record batches, uploading evidence
// binaries, and refreshing credentials.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Client is an HTTP client for the fieldsync server.
type Client struct {
	BaseURL  string
	DeviceID string
	HTTP     *http.Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// New creates a client with a 30s request timeout.
func New(baseURL, accessToken, refreshToken, deviceID string) *Client {
	return &Client{
		BaseURL:      baseURL,
		DeviceID:     deviceID,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

// AccessToken returns the current access token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// --- Wire types ---

// AuthoritativeBatch is the response from GET /api/v1/activities/assigned.
type AuthoritativeBatch struct {
	Entities   []AuthoritativeEntity `json:"entities"`
	ServerTime time.Time             `json:"server_time"`
}

// AuthoritativeEntity is one server-owned entity in a pull response.
type AuthoritativeEntity struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecordPush is one outbound record in a batch-sync request.
type RecordPush struct {
	EntityID  string          `json:"entity_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PushResult is the per-item outcome of a batch-sync request. The entity ID
// doubles as the idempotency key: resending an already-accepted record
// yields "ok" again, never a duplicate.
type PushResult struct {
	EntityID  string `json:"entity_id"`
	Status    string `json:"status"` // "ok" or "error"
	Permanent bool   `json:"permanent,omitempty"`
	Message   string `json:"message,omitempty"`
	Version   int64  `json:"server_version,omitempty"`
}

// OK reports whether the server accepted the record.
func (r PushResult) OK() bool { return r.Status == "ok" }

// UploadMeta describes one evidence upload. The attachment ID makes the
// upload idempotent server-side.
type UploadMeta struct {
	RecordID     string
	AttachmentID string
	Filename     string
	Metadata     json.RawMessage
}

type pushRequest struct {
	DeviceID string       `json:"device_id"`
	Records  []RecordPush `json:"records"`
}

type pushResponse struct {
	Results []PushResult `json:"results"`
}

type uploadResponse struct {
	RemoteURL string `json:"remote_url"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// --- Calls ---

// Login exchanges a username and password for a token pair. It stands alone
// because it runs before any authenticated client exists.
func Login(ctx context.Context, baseURL, username, password string) (TokenPair, error) {
	var pair TokenPair
	c := New(baseURL, "", "", "")
	if err := c.do(ctx, "POST", "/api/v1/auth/login", loginRequest{Username: username, Password: password}, &pair, false); err != nil {
		return TokenPair{}, err
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return TokenPair{}, &Error{Kind: KindAuth, Message: "login returned incomplete token pair"}
	}
	return pair, nil
}

// HealthCheck verifies server reachability. Used by the connectivity
// monitor; a nil error means online.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, "GET", "/healthz", nil, nil, false)
}

// FetchAuthoritative pulls assigned work and reference data changed since
// the given cursor. A nil cursor pulls everything.
func (c *Client) FetchAuthoritative(ctx context.Context, since *time.Time) (*AuthoritativeBatch, error) {
	path := "/api/v1/activities/assigned"
	if since != nil {
		params := url.Values{}
		params.Set("since", since.UTC().Format(time.RFC3339))
		path += "?" + params.Encode()
	}

	var batch AuthoritativeBatch
	if err := c.do(ctx, "GET", path, nil, &batch, true); err != nil {
		return nil, err
	}
	return &batch, nil
}

// PushRecords sends a batch of records and attendance marks. The response
// carries one result per record; a rejected record never fails the batch.
func (c *Client) PushRecords(ctx context.Context, records []RecordPush) ([]PushResult, error) {
	req := pushRequest{DeviceID: c.DeviceID, Records: records}
	var resp pushResponse
	if err := c.do(ctx, "POST", "/api/v1/records/sync", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// UploadAttachment streams one evidence file as multipart form data and
// returns the server-assigned URL. Safe to call twice with the same
// attachment ID.
func (c *Client) UploadAttachment(ctx context.Context, meta UploadMeta, r io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"entity_id":     meta.RecordID,
		"attachment_id": meta.AttachmentID,
	}
	if len(meta.Metadata) > 0 {
		fields["metadata"] = string(meta.Metadata)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	filename := meta.Filename
	if filename == "" {
		filename = meta.AttachmentID
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy attachment bytes: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/evidence/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.AccessToken())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", transientErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transientErr(err)
	}
	if resp.StatusCode >= 400 {
		return "", responseError(resp.StatusCode, body)
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("unmarshal upload response: %w", err)
	}
	if out.RemoteURL == "" {
		return "", fmt.Errorf("upload response missing remote_url")
	}
	return out.RemoteURL, nil
}

// RefreshCredentials exchanges the refresh token for a new access token.
// The new token is used by all subsequent calls, including concurrent
// attachment uploads.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	c.mu.RLock()
	req := refreshRequest{RefreshToken: c.refreshToken}
	c.mu.RUnlock()

	var resp refreshResponse
	if err := c.do(ctx, "POST", "/api/v1/auth/refresh", req, &resp, false); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return &Error{Kind: KindAuth, Message: "refresh returned empty access token"}
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.mu.Unlock()
	return nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Detail string `json:"detail"`
}

func responseError(status int, body []byte) *Error {
	msg := string(body)
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
		msg = apiErr.Detail
	}
	return &Error{Kind: kindOf(status), Status: status, Message: msg}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken())
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return transientErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transientErr(err)
	}
	if resp.StatusCode >= 400 {
		return responseError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
