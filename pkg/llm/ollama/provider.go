// Package ollama answers chats through a local Ollama server's /api/chat.
package ollama

import (
	"context"
	"net/http"
	"time"

	"ragout-bot/pkg/llm"
)

const defaultTemperature = 0.7

// Provider keeps the model loaded between questions so the first answer after
// an idle period does not pay for a model load.
type Provider struct {
	endpoint  llm.JSONEndpoint
	model     string
	keepAlive time.Duration
}

var _ llm.LLMProvider = (*Provider)(nil)

func NewProvider(baseURL, model string) *Provider {
	return &Provider{
		endpoint: llm.JSONEndpoint{
			Provider: "ollama",
			URL:      baseURL + "/api/chat",
			Client:   &http.Client{Timeout: 120 * time.Second},
			// 503 is Ollama's answer when its request queue is full.
			Throttled: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		},
		model:     model,
		keepAlive: 10 * time.Minute,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []llm.Message `json:"messages"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Options   modelOptions  `json:"options"`
}

type modelOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Message llm.Message `json:"message"`
	Done    bool        `json:"done"`
}

func (p *Provider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	opts := llm.ApplyOptions(llm.Options{Model: p.model, Temperature: defaultTemperature}, options...)

	var resp chatResponse
	err := p.endpoint.Post(ctx, chatRequest{
		Model:     opts.Model,
		Messages:  history,
		KeepAlive: p.keepAlive.String(),
		Options:   modelOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (p *Provider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, options...)
}
