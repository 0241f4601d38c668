package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func embedServer(t *testing.T, vector []float32, gotContent *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if gotContent != nil {
			*gotContent = req.Content
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"embedding": [][]float32{vector}},
		})
	}))
}

func TestEmbedAppendsEndOfTextMarker(t *testing.T) {
	var content string
	server := embedServer(t, []float32{0.1, 0.2}, &content)
	defer server.Close()

	client := NewHTTPClient(server.URL, "llama-server", 4, nil)
	if _, err := client.Embed(context.Background(), "hello world"); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if !strings.HasSuffix(content, "<|endoftext|>") {
		t.Fatalf("content %q missing end-of-text marker", content)
	}
	if !strings.HasPrefix(content, "hello world") {
		t.Fatalf("content %q does not start with input text", content)
	}
}

func TestEmbedPadsShortVector(t *testing.T) {
	server := embedServer(t, []float32{0.5, 0.25}, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL, "llama-server", 4, nil)
	vector, err := client.Embed(context.Background(), "short")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vector) != 4 {
		t.Fatalf("expected 4 dims, got %d", len(vector))
	}
	if vector[0] != 0.5 || vector[1] != 0.25 || vector[2] != 0 || vector[3] != 0 {
		t.Fatalf("unexpected padded vector %v", vector)
	}
}

func TestEmbedTruncatesLongVector(t *testing.T) {
	server := embedServer(t, []float32{1, 2, 3, 4, 5, 6}, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL, "llama-server", 4, nil)
	vector, err := client.Embed(context.Background(), "long")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vector) != 4 {
		t.Fatalf("expected 4 dims, got %d", len(vector))
	}
	if vector[3] != 4 {
		t.Fatalf("expected truncation to keep leading values, got %v", vector)
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	client := NewHTTPClient("http://localhost:1", "llama-server", 4, nil)
	if _, err := client.Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestEmbedOrZeroOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "llama-server", 8, nil)
	vector := client.EmbedOrZero(context.Background(), "anything")
	if len(vector) != 8 {
		t.Fatalf("expected 8 dims, got %d", len(vector))
	}
	for i, v := range vector {
		if v != 0 {
			t.Fatalf("expected zero vector, found %f at %d", v, i)
		}
	}
}

func TestEmbedOrZeroOnMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "llama-server", 8, nil)
	vector := client.EmbedOrZero(context.Background(), "anything")
	for _, v := range vector {
		if v != 0 {
			t.Fatalf("expected zero vector, got %v", vector)
		}
	}
}
