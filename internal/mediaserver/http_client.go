package mediaserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPConfig configures the Emby-dialect HTTP client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// HTTPClient overrides the underlying client, primarily for testing.
	HTTPClient *http.Client
}

// HTTPClient talks the Emby/Jellyfin REST dialect.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs a media server client with a bounded request
// timeout (default 10s).
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("mediaserver: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("mediaserver: invalid base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
	}, nil
}

// Wire types. The server's user documents are loosely typed; required and
// optional fields are separated explicitly here and defaulted in mapUser so
// the boundary stays total.
type userDocument struct {
	ID     string        `json:"Id"`
	Name   string        `json:"Name"`
	Policy *policyFields `json:"Policy"`
}

type policyFields struct {
	IsAdministrator *bool `json:"IsAdministrator"`
	IsDisabled      *bool `json:"IsDisabled"`
}

type authenticateRequest struct {
	Username string `json:"Username"`
	Password string `json:"Pw"`
}

type authenticateResponse struct {
	User        *userDocument `json:"User"`
	AccessToken string        `json:"AccessToken"`
}

type createUserRequest struct {
	Name     string `json:"Name"`
	Password string `json:"Password"`
}

type setPasswordRequest struct {
	NewPassword   string `json:"NewPw"`
	ResetPassword bool   `json:"ResetPassword"`
}

// mapUser converts a wire document into the internal view, defaulting every
// optional field: a missing policy means non-admin and enabled.
func mapUser(doc *userDocument) *User {
	user := &User{
		ID:   doc.ID,
		Name: doc.Name,
	}
	if doc.Policy != nil {
		if doc.Policy.IsAdministrator != nil {
			user.IsAdmin = *doc.Policy.IsAdministrator
		}
		if doc.Policy.IsDisabled != nil {
			user.Disabled = *doc.Policy.IsDisabled
		}
	}
	return user
}

func (c *HTTPClient) Authenticate(ctx context.Context, username, password string) (*AuthResult, error) {
	payload := authenticateRequest{Username: username, Password: password}

	var result authenticateResponse
	status, err := c.do(ctx, http.MethodPost, "/Users/AuthenticateByName", payload, &result)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, ErrInvalidCredentials
	case status >= 400:
		return nil, fmt.Errorf("mediaserver: authenticate: unexpected status %d", status)
	}

	if result.User == nil || result.User.ID == "" || result.AccessToken == "" {
		return nil, errors.New("mediaserver: authenticate: incomplete response")
	}

	user := mapUser(result.User)
	return &AuthResult{
		UserID:      user.ID,
		IsAdmin:     user.IsAdmin,
		AccessToken: result.AccessToken,
	}, nil
}

func (c *HTTPClient) AdminFlag(ctx context.Context, userID string) (bool, error) {
	var doc userDocument
	status, err := c.do(ctx, http.MethodGet, "/Users/"+url.PathEscape(userID), nil, &doc)
	if err != nil {
		return false, err
	}

	switch {
	case status == http.StatusNotFound:
		return false, ErrNotFound
	case status >= 400:
		return false, fmt.Errorf("mediaserver: get user: unexpected status %d", status)
	}

	return mapUser(&doc).IsAdmin, nil
}

// UserByName scans the account listing; the server has no lookup-by-name
// endpoint. Names compare case-insensitively, matching server behaviour.
func (c *HTTPClient) UserByName(ctx context.Context, username string) (*User, error) {
	var docs []userDocument
	status, err := c.do(ctx, http.MethodGet, "/Users", nil, &docs)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("mediaserver: list users: unexpected status %d", status)
	}

	for i := range docs {
		if strings.EqualFold(docs[i].Name, username) {
			return mapUser(&docs[i]), nil
		}
	}
	return nil, nil
}

func (c *HTTPClient) CreateAccount(ctx context.Context, username, password string) (*User, error) {
	payload := createUserRequest{Name: username, Password: password}

	var doc userDocument
	status, err := c.do(ctx, http.MethodPost, "/Users/New", payload, &doc)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("mediaserver: create user: unexpected status %d", status)
	}
	if doc.ID == "" {
		return nil, errors.New("mediaserver: create user: incomplete response")
	}

	return mapUser(&doc), nil
}

func (c *HTTPClient) ApplyPolicy(ctx context.Context, userID string, policy json.RawMessage) error {
	status, err := c.do(ctx, http.MethodPost, "/Users/"+url.PathEscape(userID)+"/Policy", policy, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status >= 400 {
		return fmt.Errorf("mediaserver: apply policy: unexpected status %d", status)
	}
	return nil
}

func (c *HTTPClient) UploadAvatar(ctx context.Context, userID string, data []byte, mimeType string) error {
	encoded := base64.StdEncoding.EncodeToString(data)

	req, err := c.newRequest(ctx, http.MethodPost, "/Users/"+url.PathEscape(userID)+"/Images/Primary", strings.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mediaserver: upload avatar: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("mediaserver: upload avatar: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) ResetPassword(ctx context.Context, userID, newPassword string) error {
	payload := setPasswordRequest{NewPassword: newPassword, ResetPassword: false}

	status, err := c.do(ctx, http.MethodPost, "/Users/"+url.PathEscape(userID)+"/Password", payload, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status >= 400 {
		return fmt.Errorf("mediaserver: reset password: unexpected status %d", status)
	}
	return nil
}

func (c *HTTPClient) DeleteAccount(ctx context.Context, userID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/Users/"+url.PathEscape(userID), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status >= 400 {
		return fmt.Errorf("mediaserver: delete user: unexpected status %d", status)
	}
	return nil
}

// do issues a JSON request and decodes the response into out when provided.
// 4xx statuses are returned to the caller for mapping; transport failures
// come back as errors.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("mediaserver: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("mediaserver: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 400 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("mediaserver: decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("mediaserver: build request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("X-Emby-Token", c.apiKey)
	}
	req.Header.Set("X-Emby-Authorization", `MediaBrowser Client="Warden", Device="Warden", DeviceId="warden-server", Version="1.0"`)
	req.Header.Set("Accept", "application/json")

	return req, nil
}
