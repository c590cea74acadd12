package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client calls the BGE-M3 embeddings microservice (POST /embeddings).
// Requests are rate-limited so a burst of stores cannot flood the
// single-GPU service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an embeddings service client with the default
// rate limit.
func NewClient(baseURL string) *Client {
	return NewClientWithLimit(baseURL, 10, 20)
}

// NewClientWithLimit creates an embeddings service client with an
// explicit request rate and burst. Non-positive values fall back to
// the defaults.
func NewClientWithLimit(baseURL string, rps float64, burst int) *Client {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type embeddingsRequest struct {
	Texts        []string `json:"texts"`
	IncludeDense bool     `json:"include_dense"`
}

type embeddingsResponse struct {
	Embeddings []struct {
		Text  string    `json:"text"`
		Dense []float32 `json:"dense"`
	} `json:"embeddings"`
}

// Embed returns the dense vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embeddingsRequest{Texts: []string{text}, IncludeDense: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings service returned status %d", resp.StatusCode)
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings response: %w", err)
	}

	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0].Dense) == 0 {
		return nil, fmt.Errorf("embeddings service returned no dense vector")
	}

	return parsed.Embeddings[0].Dense, nil
}
