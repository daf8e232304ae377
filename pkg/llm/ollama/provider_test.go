package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ragout-bot/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaChat(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		want        string
		rateLimited bool
		wantErr     bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"message":{"role":"assistant","content":"Behemoth"},"done":true}`, want: "Behemoth"},
		{name: "queue full", status: http.StatusServiceUnavailable, body: `busy`, rateLimited: true, wantErr: true},
		{name: "too many requests", status: http.StatusTooManyRequests, rateLimited: true, wantErr: true},
		{name: "model missing", status: http.StatusNotFound, body: `{"error":"model not found"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/chat", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewProvider(srv.URL, "llama3").Generate(context.Background(), "who keeps the cat?")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.rateLimited, llmRateLimited(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOllamaChatRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "llama3")
	_, err := p.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "hi"},
	}, llm.WithMaxTokens(256), llm.WithModel("mistral"))
	require.NoError(t, err)

	assert.Equal(t, "mistral", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, "10m0s", got.KeepAlive)
	assert.Equal(t, modelOptions{Temperature: defaultTemperature, NumPredict: 256}, got.Options)
	assert.Len(t, got.Messages, 2)
}

func llmRateLimited(err error) bool {
	return errors.Is(err, llm.ErrRateLimited)
}
