package openrouter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dailyfactoid/factoid/pkg/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL}
	cfg.SetDefaults()
	cfg.MaxRetries = 0
	return NewClient(cfg)
}

func TestGenerate_Success(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "openai/gpt-4o-mini",
			"choices": [{"message": {"role": "assistant",
				"content": "{\"text\": \"Scotland's national animal is the unicorn.\", \"subject\": \"Culture\", \"emoji\": \"🦄\"}"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150, "cost": 0.0021}
		}`))
	}))

	result, err := client.Generate(context.Background(), "", "prompt")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Text != "Scotland's national animal is the unicorn." {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.Subject != "Culture" || result.Emoji != "🦄" {
		t.Errorf("unexpected fields: %+v", result)
	}
	if result.Usage.Cost != 0.0021 {
		t.Errorf("expected cost passthrough, got %v", result.Usage.Cost)
	}
	if !result.Structured {
		t.Error("expected structured result")
	}
}

func TestGenerate_RejectedOnStatusError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid key"}}`, http.StatusUnauthorized)
	}))

	_, err := client.Generate(context.Background(), "", "prompt")
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Kind != KindRejected {
		t.Errorf("expected rejected kind, got %s", callErr.Kind)
	}
}

func TestGenerate_RejectedOnAPIErrorBody(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "model is overloaded"}, "choices": []}`))
	}))

	_, err := client.Generate(context.Background(), "", "prompt")
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Kind != KindRejected {
		t.Fatalf("expected rejected CallError, got %v", err)
	}
}

func TestGenerate_MalformedOnBadJSON(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway error</html>`))
	}))

	_, err := client.Generate(context.Background(), "", "prompt")
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Kind != KindMalformed {
		t.Fatalf("expected malformed CallError, got %v", err)
	}
}

func TestGenerate_MalformedOnEmptyChoices(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))

	_, err := client.Generate(context.Background(), "", "prompt")
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Kind != KindMalformed {
		t.Fatalf("expected malformed CallError, got %v", err)
	}
}

func TestGenerate_TimeoutKind(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "", "prompt")
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Kind != KindTimeout {
		t.Fatalf("expected timeout CallError, got %v", err)
	}
}

func TestListModels_CachesCatalog(t *testing.T) {
	var calls atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data": [{"id": "openai/gpt-4o-mini", "name": "GPT-4o mini",
			"pricing": {"prompt": "0.00000015", "completion": "0.0000006"}}]}`))
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		models, err := client.ListModels(ctx)
		if err != nil {
			t.Fatalf("list models: %v", err)
		}
		if len(models) != 1 || models[0].ID != "openai/gpt-4o-mini" {
			t.Fatalf("unexpected catalog: %+v", models)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("expected one upstream fetch, got %d", calls.Load())
	}
}

func TestEstimateCost(t *testing.T) {
	cfg := &config.OpenRouterConfig{APIKey: "k"}
	cfg.SetDefaults()
	client := NewClient(cfg)

	cost := client.EstimateCost("a short prompt")
	if cost <= 0 {
		t.Errorf("expected positive estimate, got %v", cost)
	}
	// At least the completion budget is always priced in.
	floor := float64(cfg.MaxTokens) / 1000.0 * cfg.PricePer1KTokens
	if cost < floor {
		t.Errorf("estimate %v below completion floor %v", cost, floor)
	}
}
