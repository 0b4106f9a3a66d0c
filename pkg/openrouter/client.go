// Package openrouter calls the OpenRouter chat completions API (OpenAI wire
// format) to generate factoids, and serves the cached model catalog.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/dailyfactoid/factoid/internal/httpclient"
	"github.com/dailyfactoid/factoid/pkg/config"
)

var tracer = otel.Tracer("github.com/dailyfactoid/factoid/pkg/openrouter")

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Usage       *usageOpts    `json:"usage,omitempty"`
}

type usageOpts struct {
	Include bool `json:"include"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string    `json:"model"`
	Choices []choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage reports token counts and, when the provider includes it, the charge
// in USD.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

type apiError struct {
	Code    interface{} `json:"code"`
	Message string      `json:"message"`
}

// Result is a parsed generation outcome.
type Result struct {
	Text    string
	Subject string
	Emoji   string
	Model   string
	Usage   Usage
	// Structured is false when the model ignored the JSON contract and the
	// raw content was kept as the text.
	Structured bool
}

// Client calls the OpenRouter API.
type Client struct {
	cfg     *config.OpenRouterConfig
	http    *httpclient.Client
	catalog *catalogCache
	group   singleflight.Group
}

// NewClient creates an OpenRouter client.
func NewClient(cfg *config.OpenRouterConfig) *Client {
	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenRouterHeaders),
	)

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		catalog: newCatalogCache(cfg.CatalogTTL),
	}
}

// Enabled reports whether an API key is configured. Without one the service
// falls back to stub factoids.
func (c *Client) Enabled() bool {
	return c.cfg.APIKey != ""
}

// DefaultModel returns the configured model key.
func (c *Client) DefaultModel() string {
	return c.cfg.Model
}

// Generate runs one completion and parses the factoid payload. Failures are
// returned as *CallError with a kind of timeout, rejected, or malformed.
func (c *Client) Generate(ctx context.Context, model, prompt string) (*Result, error) {
	if model == "" {
		model = c.cfg.Model
	}

	ctx, span := tracer.Start(ctx, "openrouter.generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	body := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		Usage:       &usageOpts{Include: true},
	}
	if c.cfg.MaxTokens > 0 {
		body.MaxTokens = &c.cfg.MaxTokens
	}

	var parsed chatResponse
	if err := c.post(ctx, "/chat/completions", body, &parsed); err != nil {
		callErr := classify(err, model)
		span.SetStatus(codes.Error, callErr.Error())
		return nil, callErr
	}

	if parsed.Error != nil {
		err := &CallError{Kind: KindRejected, Model: model,
			Err: fmt.Errorf("upstream error: %s", parsed.Error.Message)}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		err := &CallError{Kind: KindMalformed, Model: model,
			Err: errors.New("response has no choices")}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload, structured := parseFactoid(parsed.Choices[0].Message.Content)
	if payload.Text == "" {
		err := &CallError{Kind: KindMalformed, Model: model,
			Err: errors.New("response content is empty")}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if parsed.Model != "" {
		model = parsed.Model
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", parsed.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", parsed.Usage.CompletionTokens),
	)

	return &Result{
		Text:       payload.Text,
		Subject:    payload.Subject,
		Emoji:      payload.Emoji,
		Model:      model,
		Usage:      parsed.Usage,
		Structured: structured,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(encoded)), nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// decodeError marks payloads that did not parse, so classify can tag them
// as malformed rather than rejected.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return fmt.Sprintf("decode response: %v", e.err) }
func (e *decodeError) Unwrap() error { return e.err }

func classify(err error, model string) *CallError {
	var statusErr *httpclient.StatusError
	var decErr *decodeError

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return &CallError{Kind: KindTimeout, Model: model, Err: err}
	case errors.As(err, &decErr):
		return &CallError{Kind: KindMalformed, Model: model, Err: err}
	case errors.As(err, &statusErr):
		return &CallError{Kind: KindRejected, Model: model, Err: err}
	default:
		// Transport failures behave like timeouts from the caller's view:
		// nothing was generated and nothing was billed upstream.
		return &CallError{Kind: KindTimeout, Model: model, Err: err}
	}
}
