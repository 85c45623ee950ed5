package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

const (
	// DefaultTimeout bounds one completion attempt.
	DefaultTimeout = 120 * time.Second

	// maxErrorBody caps how much of an error body is kept in errors.
	maxErrorBody = 512

	// maxResponseBody caps how much of a response body is read.
	maxResponseBody = 8 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the model requested for every completion.
	Model string

	// Timeout bounds one attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport. Defaults to a fresh http.Client.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// FromConfig converts the file configuration into client settings.
func FromConfig(cfg *config.UpstreamConfig) Config {
	return Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
}

// Prompt is a single-turn completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Response is a decoded completion.
type Response struct {
	ID               string
	Model            string
	Content          string
	FinishReason     string
	PromptTokens     uint64
	CompletionTokens uint64
	TotalTokens      uint64
}

// Client calls a chat completion endpoint. It is safe for concurrent use.
type Client struct {
	config   Config
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream: base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("upstream: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "upstream")
	}
	return &Client{
		config:   cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		client:   httpClient,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.config.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     uint64 `json:"prompt_tokens"`
		CompletionTokens uint64 `json:"completion_tokens"`
		TotalTokens      uint64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete performs one completion attempt.
//
// Cancellation of ctx is returned as ctx's error. Expiry of the client's
// own timeout is returned as *TimeoutError. Transport failures are
// wrapped so that network error types stay reachable through errors.As.
func (c *Client) Complete(ctx context.Context, p Prompt) (*Response, error) {
	messages := make([]chatMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: p.User})

	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	tracing.Inject(ctx, req.Header)

	start := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err)
	}

	c.logger.DebugContext(ctx, "upstream response",
		"status", resp.StatusCode,
		"duration", c.now().Sub(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp, raw)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &ParseError{
			RawResponse: truncate(string(raw), maxErrorBody),
			Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
		}
	}
	if len(decoded.Choices) == 0 {
		return nil, &ParseError{
			RawResponse: truncate(string(raw), maxErrorBody),
			Cause:       errors.New("response contains no choices"),
		}
	}

	out := &Response{
		ID:               decoded.ID,
		Model:            decoded.Model,
		Content:          decoded.Choices[0].Message.Content,
		FinishReason:     decoded.Choices[0].FinishReason,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		TotalTokens:      decoded.Usage.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out, nil
}

// Operation adapts a prompt into a governed operation. The completion
// content becomes the cached value and total_tokens the committed usage.
func (c *Client) Operation(p Prompt) governor.Operation {
	return func(ctx context.Context) (governor.Completion, error) {
		resp, err := c.Complete(ctx, p)
		if err != nil {
			return governor.Completion{}, err
		}
		return governor.Completion{
			Value: []byte(resp.Content),
			Usage: resp.TotalTokens,
		}, nil
	}
}

func (c *Client) transportError(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return context.Cause(parent)
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.config.Timeout, Cause: err}
	}
	return fmt.Errorf("upstream request failed: %w", err)
}

func (c *Client) statusError(resp *http.Response, raw []byte) error {
	msg := truncate(strings.TrimSpace(string(raw)), maxErrorBody)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode, Message: msg}
	case http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Message:    msg,
		}
	default:
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
}
