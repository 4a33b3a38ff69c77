package kintone

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/kinrule/internal/ir"
)

// RecordPath is the single-record endpoint.
const RecordPath = "/k/v1/record.json"

// DefaultTimeout bounds one update request.
const DefaultTimeout = 15 * time.Second

// Auth headers.
const (
	HeaderAPIToken      = "X-Cybozu-API-Token"
	HeaderAuthorization = "X-Cybozu-Authorization"
)

// Config configures a Client. Either APIToken or Username and Password is
// required.
type Config struct {
	BaseURL  string // e.g. https://example.cybozu.com
	APIToken string // Comma-separated tokens are passed through as is
	Username string
	Password string
	Timeout  time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// APIError is a non-2xx response from the host.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("kintone api error (status=%d): %s", e.Status, strings.TrimSpace(e.Message))
	}
	return fmt.Sprintf("kintone api error (status=%d, code=%s): %s", e.Status, e.Code, e.Message)
}

// Client sends record updates. Implements engine.Updater.
type Client struct {
	baseURL string
	headers http.Header
	http    *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("kintone: base url is required")
	}
	if !strings.HasPrefix(baseURL, "https://") && !strings.HasPrefix(baseURL, "http://") {
		return nil, fmt.Errorf("kintone: base url %q must start with http:// or https://", baseURL)
	}

	headers := make(http.Header)
	switch {
	case cfg.APIToken != "":
		headers.Set(HeaderAPIToken, cfg.APIToken)
	case cfg.Username != "" && cfg.Password != "":
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set(HeaderAuthorization, creds)
	default:
		return nil, errors.New("kintone: api token or username and password is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{baseURL: baseURL, headers: headers, http: httpClient}, nil
}

// UpdateRecord sends PUT /k/v1/record.json carrying only the update's fields.
// It never returns a Go error; the outcome is in the result.
func (c *Client) UpdateRecord(ctx context.Context, upd ir.RemoteUpdate) ir.UpdateResult {
	if err := upd.Validate(); err != nil {
		return ir.Failed(0, err)
	}

	body, err := json.Marshal(upd)
	if err != nil {
		return ir.Failed(0, fmt.Errorf("marshal update: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+RecordPath, bytes.NewReader(body))
	if err != nil {
		return ir.Failed(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Revision json.RawMessage `json:"revision"`
	}
	status, err := c.do(req, &out)
	if err != nil {
		return ir.Failed(status, err)
	}

	revision, err := ir.FlexString(out.Revision)
	if err != nil {
		return ir.Failed(status, fmt.Errorf("decode revision: %w", err))
	}
	return ir.Succeeded(revision, status)
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return resp.StatusCode, apiErr
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode kintone response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
