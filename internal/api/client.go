package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/colthorp/txcache/internal/core"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// APIError is returned when the Plaid API returns an error response.
type APIError struct {
	StatusCode   int
	ErrorType    string
	ErrorCode    string
	ErrorMessage string
	RequestID    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("plaid error (HTTP %d): %s %s: %s", e.StatusCode, e.ErrorType, e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("plaid error (HTTP %d): %s", e.StatusCode, e.ErrorMessage)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		apiErr.ErrorType = res.Get("error_type").String()
		apiErr.ErrorCode = res.Get("error_code").String()
		apiErr.ErrorMessage = res.Get("error_message").String()
		apiErr.RequestID = res.Get("request_id").String()
	}
	if apiErr.ErrorMessage == "" {
		apiErr.ErrorMessage = strings.TrimSpace(string(body))
	}
	return apiErr
}

// ClientOptions configures a Client.
type ClientOptions struct {
	ClientID   string
	Secret     string
	BaseURL    string
	Version    string
	Timeout    time.Duration
	MaxRetries int
	// Backoff returns the wait before retry number attempt (1-based).
	Backoff func(attempt int) time.Duration
	Logger  *slog.Logger
}

// Client is the HTTP wrapper around the Plaid REST API.
type Client struct {
	clientID   string
	secret     string
	version    string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *slog.Logger
}

// NewClient creates a new API client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = core.PlaidEnvironments[core.DefaultPlaidEnv]
	}
	if opts.Version == "" {
		opts.Version = core.PlaidVersion
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = func(attempt int) time.Duration {
			return time.Duration(1<<(attempt-1)) * time.Second
		}
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger()
	}

	return &Client{
		clientID:   opts.ClientID,
		secret:     opts.Secret,
		version:    opts.Version,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		logger:     opts.Logger.With("component", "api"),
	}
}

// NewClientFromConfig creates a client for the configured Plaid environment.
func NewClientFromConfig(cfg *core.Config, logger *slog.Logger) *Client {
	return NewClient(ClientOptions{
		ClientID: cfg.PlaidClientID,
		Secret:   cfg.PlaidSecret,
		BaseURL:  cfg.PlaidBaseURL(),
		Version:  cfg.PlaidVersion,
		Logger:   logger,
	})
}

// Request performs a POST request and returns the raw JSON payload.
// Retries automatically on HTTP 5xx or 429 responses with exponential back-off.
func (c *Client) Request(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, error) {
	urlStr := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(endpoint, "/"))

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	c.logger.Debug("request", "method", http.MethodPost, "url", urlStr)

	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("PLAID-CLIENT-ID", c.clientID)
		req.Header.Set("PLAID-SECRET", c.secret)
		req.Header.Set("Plaid-Version", c.version)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "request cancelled")
			}
			if attempt < c.maxRetries {
				wait := c.backoff(attempt)
				c.logger.Warn("connection error, retrying", "attempt", attempt, "wait", wait, "error", err)
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, errors.Wrap(err, "request failed")
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read response body")
		}

		if resp.StatusCode >= 400 {
			apiErr := parseAPIError(resp.StatusCode, respBody)
			if !apiErr.Retryable() {
				return nil, apiErr
			}

			lastErr = apiErr
			if attempt < c.maxRetries {
				wait := c.backoff(attempt)
				if resp.StatusCode == http.StatusTooManyRequests {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = time.Duration(secs) * time.Second
						}
					}
				}
				c.logger.Warn("retryable status, retrying", "attempt", attempt, "status", resp.StatusCode, "wait", wait)
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if !gjson.ValidBytes(respBody) {
			return nil, errors.Wrapf(ErrMalformedResponse, "%s returned invalid JSON", endpoint)
		}

		c.logger.Debug("response", "endpoint", endpoint, "status", resp.StatusCode, "bytes", len(respBody),
			"request_id", gjson.GetBytes(respBody, "request_id").String())

		return respBody, nil
	}

	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "request cancelled")
	case <-t.C:
		return nil
	}
}
