package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Model is one catalog entry from the OpenRouter /models endpoint.
type Model struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	ContextLength int     `json:"context_length,omitempty"`
	Pricing       Pricing `json:"pricing"`
}

// Pricing is quoted in USD per token, as decimal strings.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

type modelsResponse struct {
	Data []Model `json:"data"`
}

type catalogCache struct {
	mu        sync.RWMutex
	models    []Model
	fetchedAt time.Time
	ttl       time.Duration
}

func newCatalogCache(ttl time.Duration) *catalogCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &catalogCache{ttl: ttl}
}

func (c *catalogCache) get() ([]Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.models == nil || time.Since(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.models, true
}

func (c *catalogCache) set(models []Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.fetchedAt = time.Now()
}

// ListModels returns the model catalog, cached for the configured TTL.
// Concurrent cache misses share a single upstream fetch.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if models, ok := c.catalog.get(); ok {
		return models, nil
	}

	v, err, _ := c.group.Do("models", func() (interface{}, error) {
		if models, ok := c.catalog.get(); ok {
			return models, nil
		}
		models, err := c.fetchModels(ctx)
		if err != nil {
			return nil, err
		}
		c.catalog.set(models)
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Model), nil
}

func (c *Client) fetchModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, classify(err, "catalog")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &CallError{Kind: KindMalformed, Model: "catalog", Err: err}
	}
	return parsed.Data, nil
}
