// Package api is the HTTP gateway to the remote study API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 4096

	pushPath = "/sync/push"
	pullPath = "/sync/pull"
)

var (
	errMissingBaseURL = errors.New("api: base url is required")
	// ErrInvalidClientConfig wraps configuration errors from NewClient.
	ErrInvalidClientConfig = errors.New("api: invalid client config")
)

// Record is one entity as it travels over the wire.
type Record = map[string]any

// Config bundles the settings required to build a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Client talks to the remote API. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	timeout    time.Duration
	httpClient *http.Client
	clock      func() time.Time
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	rawBaseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawBaseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	baseURL, err := url.Parse(rawBaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: base url %q is not absolute", ErrInvalidClientConfig, cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
		token:      strings.TrimSpace(cfg.Token),
	}, nil
}

// SetSession installs the bearer token used for every request.
func (c *Client) SetSession(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// ClearSession drops the bearer token.
func (c *Client) ClearSession() {
	c.SetSession("")
}

// IsAuthenticated reports whether a usable session token is present. JWT
// tokens are checked for expiry without verifying the signature; opaque
// tokens count as authenticated.
func (c *Client) IsAuthenticated() bool {
	token := c.sessionToken()
	if token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return c.clock().Before(claims.ExpiresAt.Time)
}

// PushRequest is the body of a push batch.
type PushRequest struct {
	TableName string   `json:"table_name"`
	Records   []Record `json:"records"`
	DeviceID  string   `json:"device_id"`
}

// PushResponse is the server reply to a push batch.
type PushResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Push sends one table's pending rows. A success=false reply is returned as an APIError.
func (c *Client) Push(ctx context.Context, tableName string, records []Record, deviceID string) (PushResponse, error) {
	const operation = "push"
	var response PushResponse
	request := PushRequest{TableName: tableName, Records: records, DeviceID: deviceID}
	if err := c.do(ctx, operation, http.MethodPost, pushPath, request, &response); err != nil {
		return response, err
	}
	if !response.Success {
		return response, &APIError{Operation: operation, Message: response.Error}
	}
	return response, nil
}

// PullRequest scopes a pull by watermark and device. A nil LastSync pulls everything.
type PullRequest struct {
	DeviceID string   `json:"device_id"`
	LastSync *string  `json:"last_sync"`
	Tables   []string `json:"tables"`
}

// PullResponse is the server reply to a pull.
type PullResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Data    PullData `json:"data"`
}

// PullData carries the rows per table plus the new watermark.
type PullData struct {
	Tables   map[string][]Record
	LastSync string
	// Ignored lists data keys that were not row arrays, sorted.
	Ignored []string
}

// MarshalJSON flattens the tables next to last_sync.
func (d PullData) MarshalJSON() ([]byte, error) {
	flattened := make(map[string]any, len(d.Tables)+1)
	for table, records := range d.Tables {
		flattened[table] = records
	}
	flattened["last_sync"] = d.LastSync
	return json.Marshal(flattened)
}

// UnmarshalJSON accepts a numeric or string last_sync. Keys whose value is
// not an array of rows are recorded in Ignored instead of failing the pull.
func (d *PullData) UnmarshalJSON(payload []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return err
	}
	d.Tables = make(map[string][]Record, len(raw))
	d.LastSync = ""
	d.Ignored = nil
	for key, value := range raw {
		if key == "last_sync" {
			lastSync, err := decodeWatermark(value)
			if err != nil {
				return err
			}
			d.LastSync = lastSync
			continue
		}
		var records []Record
		if err := json.Unmarshal(value, &records); err != nil {
			d.Ignored = append(d.Ignored, key)
			continue
		}
		d.Tables[key] = records
	}
	sort.Strings(d.Ignored)
	return nil
}

// Pull fetches every row changed since the request watermark.
func (c *Client) Pull(ctx context.Context, request PullRequest) (PullResponse, error) {
	const operation = "pull"
	var response PullResponse
	if err := c.do(ctx, operation, http.MethodPost, pullPath, request, &response); err != nil {
		return response, err
	}
	if !response.Success {
		return response, &APIError{Operation: operation, Message: response.Error}
	}
	if len(response.Data.Ignored) > 0 {
		c.logger.Debug("ignoring non-row pull data keys", zap.Strings("keys", response.Data.Ignored))
	}
	return response, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &APIError{Operation: operation, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return &APIError{Operation: operation, Message: "build request", Err: err}
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := c.sessionToken(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("api request failed",
			zap.String("operation", operation),
			zap.String("path", path),
			zap.Error(err))
		return &APIError{Operation: operation, Message: "request failed", Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		return &APIError{
			Operation:  operation,
			StatusCode: response.StatusCode,
			Message:    errorMessage(excerpt, response.Status),
			Body:       string(excerpt),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return &APIError{Operation: operation, StatusCode: response.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func errorMessage(body []byte, fallback string) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return fallback
}

func decodeWatermark(value json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(value))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(value, &text); err == nil {
		return text, nil
	}
	var number json.Number
	if err := json.Unmarshal(value, &number); err != nil {
		return "", fmt.Errorf("api: decode last_sync: %w", err)
	}
	return number.String(), nil
}
