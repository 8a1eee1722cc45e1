package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sessioncore/config"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestNewHTTPGeneratorValidation(t *testing.T) {
	_, err := NewHTTPGenerator(config.GeneratorConfig{Model: "m"}, nil)
	assert.Error(t, err)

	_, err = NewHTTPGenerator(config.GeneratorConfig{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	srv := completionServer(t, "hello from the model")
	defer srv.Close()

	g, err := NewHTTPGenerator(config.GeneratorConfig{
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Timeout: time.Second,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test-model", g.Model())

	out, err := g.Generate(context.Background(), "say hello",
		map[string]string{"conversation": "c1"})
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", out)
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(config.GeneratorConfig{
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Timeout: time.Second,
	}, nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestSystemPromptStableOrdering(t *testing.T) {
	a := systemPrompt(map[string]string{"b": "2", "a": "1"})
	b := systemPrompt(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Contains(t, a, "a: 1")

	assert.Empty(t, systemPrompt(nil))
}
