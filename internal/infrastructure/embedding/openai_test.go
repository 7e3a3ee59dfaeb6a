package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"TrialSync/internal/config"
)

func TestEmbedTextsKeepsInputOrder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Model != "test-model" {
			t.Errorf("unexpected model: %s", payload.Model)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected authorization header: %s", r.Header.Get("Authorization"))
		}

		// Answer out of order; the client must restore input order.
		_, _ = w.Write([]byte(`{"data": [
			{"index": 1, "embedding": [0.4, 0.5]},
			{"index": 0, "embedding": [0.1, 0.2]}
		]}`))
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(config.EmbeddingConfig{
		Endpoint: server.URL,
		Model:    "test-model",
		APIKey:   "secret",
	})

	vectors, err := embedder.EmbedTexts(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedTexts returned error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.4 {
		t.Fatalf("vectors not in input order: %v", vectors)
	}
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	t.Parallel()

	embedder := NewOpenAIEmbedder(config.EmbeddingConfig{Endpoint: "http://localhost:1", Model: "m", APIKey: "k"})
	vectors, err := embedder.EmbedTexts(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedTexts returned error: %v", err)
	}
	if vectors != nil {
		t.Fatalf("expected nil vectors, got %v", vectors)
	}
}

func TestEmbedTextsRejectsMismatchedResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [0.1]}]}`))
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(config.EmbeddingConfig{Endpoint: server.URL, Model: "m", APIKey: "k"})
	if _, err := embedder.EmbedTexts(context.Background(), []string{"one", "two"}); err == nil {
		t.Fatal("expected an error for a short response")
	}
}

func TestEmbedTextsRequiresConfiguration(t *testing.T) {
	t.Parallel()

	embedder := NewOpenAIEmbedder(config.EmbeddingConfig{})
	if _, err := embedder.EmbedTexts(context.Background(), []string{"text"}); err == nil {
		t.Fatal("expected a misconfiguration error")
	}
}
