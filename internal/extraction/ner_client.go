package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// NERClient calls the DictaBERT NER service (POST /extract). When the
// service is unreachable it falls back to the heuristic extractor so
// memory storage never depends on the NER deployment being up.
type NERClient struct {
	baseURL       string
	minConfidence float64
	httpClient    *http.Client
	fallback      *HeuristicExtractor
}

// NewNERClient creates a remote NER extractor with heuristic fallback.
func NewNERClient(baseURL string, minConfidence float64) *NERClient {
	if minConfidence <= 0 {
		minConfidence = 0.85
	}
	return &NERClient{
		baseURL:       baseURL,
		minConfidence: minConfidence,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		fallback: NewHeuristicExtractor(),
	}
}

type nerRequest struct {
	Texts         []string `json:"texts"`
	MinConfidence float64  `json:"min_confidence"`
}

type nerResponse struct {
	Results [][]struct {
		EntityGroup string  `json:"entity_group"`
		Word        string  `json:"word"`
		Score       float64 `json:"score"`
	} `json:"results"`
}

// Extract implements Extractor.
func (c *NERClient) Extract(ctx context.Context, text string) ([]Entity, error) {
	body, err := json.Marshal(nerRequest{Texts: []string{text}, MinConfidence: c.minConfidence})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal NER request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create NER request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("⚠️ [EXTRACTION] NER service unreachable, using heuristic: %v", err)
		return c.fallback.Extract(ctx, text)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ [EXTRACTION] NER service returned %d, using heuristic", resp.StatusCode)
		return c.fallback.Extract(ctx, text)
	}

	var parsed nerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode NER response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	entities := make([]Entity, 0, MaxEntities)
	for _, e := range parsed.Results[0] {
		label := strings.ToLower(strings.TrimSpace(e.Word))
		lower := label
		if label == "" || seen[lower] {
			continue
		}
		if !keepToken(label, lower) {
			continue
		}
		seen[lower] = true
		entities = append(entities, Entity{
			Label:      label,
			Type:       e.EntityGroup,
			Confidence: e.Score,
		})
		if len(entities) >= MaxEntities {
			break
		}
	}
	return entities, nil
}
