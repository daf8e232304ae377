package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// ApplyOptions layers opts over the provider defaults.
func ApplyOptions(defaults Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}

// JSONEndpoint is one provider route that takes and returns JSON.
type JSONEndpoint struct {
	Provider string
	URL      string
	Header   http.Header
	Client   *http.Client
	// Throttled lists the statuses that mean "slow down" for this provider.
	Throttled []int
}

// Post sends payload and decodes a 200 answer into out. Throttled statuses
// become *RateLimitError, any other non-200 status a plain error.
func (e JSONEndpoint) Post(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", e.Provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", e.Provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range e.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", e.Provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", e.Provider, err)
	}

	if slices.Contains(e.Throttled, resp.StatusCode) {
		return &RateLimitError{
			Provider:   e.Provider,
			RetryAfter: ParseRetryAfter(resp.Header),
			Body:       string(raw),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s api error (status %d): %s", e.Provider, resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", e.Provider, err)
	}
	return nil
}
