// Package telegram is the Bot API transport: a paced HTTP client, the
// long-polling update source and a background queue for slow requests.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/flemzord/pelican/pkg/update"
)

const (
	// DefaultAPIURL is the public Bot API endpoint.
	DefaultAPIURL = "https://api.telegram.org"

	// DefaultRequestsPerSecond matches Telegram's global bot send limit.
	DefaultRequestsPerSecond = 30

	maxRetries       = 3
	initialBackoff   = time.Second
	maxResponseBytes = 10 << 20
	defaultTimeout   = 60 * time.Second

	methodGetUpdates = "getUpdates"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit paces outbound requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Client is a thin HTTP wrapper around the Telegram Bot API.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	backoff time.Duration
}

// NewClient creates a Bot API client. An empty baseURL selects DefaultAPIURL.
func NewClient(token, baseURL string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	c := &Client{
		token:   token,
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(DefaultRequestsPerSecond, DefaultRequestsPerSecond),
		backoff: initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do sends a JSON POST request to the given Bot API method and decodes the
// response. 429 and 5xx responses are retried with exponential backoff,
// honouring Retry-After. getUpdates is exempt from outbound pacing.
func do[T any](ctx context.Context, c *Client, method string, payload any) (*T, error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("telegram: marshal %s request: %w", method, err)
		}
	}

	backoff := c.backoff
	for attempt := range maxRetries {
		if c.limiter != nil && method != methodGetUpdates {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("telegram: %s rate limiter: %w", method, err)
			}
		}

		var body io.Reader
		if data != nil {
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, fmt.Errorf("telegram: create %s request: %w", method, err)
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("telegram: %s request failed: %w", method, redactURLError(err, c.token))
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("telegram: read %s response: %w", method, err)
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		if retryable && attempt < maxRetries-1 {
			var apiResp APIResponse[json.RawMessage]
			if err := json.Unmarshal(respBody, &apiResp); err == nil && apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
				backoff = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			continue
		}

		var apiResp APIResponse[T]
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, fmt.Errorf("telegram: decode %s response (status %d): %w", method, resp.StatusCode, err)
		}
		if !apiResp.OK {
			apiErr := &APIError{
				Code:        apiResp.ErrorCode,
				Description: apiResp.Description,
			}
			if apiResp.Parameters != nil {
				apiErr.RetryAfter = apiResp.Parameters.RetryAfter
			}
			return nil, apiErr
		}
		return &apiResp.Result, nil
	}

	return nil, fmt.Errorf("telegram: %s: max retries exceeded", method)
}

// Call fires a named method with parameters and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	var payload any
	if len(params) > 0 {
		payload = params
	}
	result, err := do[json.RawMessage](ctx, c, method, payload)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// GetMe returns the bot's user information.
func (c *Client) GetMe(ctx context.Context) (*update.User, error) {
	return do[update.User](ctx, c, "getMe", nil)
}

// GetUpdates fetches raw updates using long polling.
func (c *Client) GetUpdates(ctx context.Context, req GetUpdatesRequest) ([]json.RawMessage, error) {
	result, err := do[[]json.RawMessage](ctx, c, methodGetUpdates, req)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// DeleteWebhook removes any webhook so getUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := do[bool](ctx, c, "deleteWebhook", nil)
	return err
}

// redactURLError strips the token from the URL carried by *url.Error.
func redactURLError(err error, token string) error {
	ue, ok := err.(*url.Error)
	if !ok {
		return err
	}
	return &url.Error{
		Op:  ue.Op,
		URL: strings.ReplaceAll(ue.URL, token, "***"),
		Err: ue.Err,
	}
}
