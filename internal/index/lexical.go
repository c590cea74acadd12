package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	lru "github.com/hashicorp/golang-lru/v2"

	"zikaron/internal/models"
)

// DefaultLexicalCacheSize bounds the payload cache of the lexical index.
const DefaultLexicalCacheSize = 10000

// lexicalDocument is the flat shape indexed in bleve.
type lexicalDocument struct {
	UserID      string   `json:"user_id"`
	Tier        string   `json:"tier"`
	Status      string   `json:"status"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	WilsonScore float64  `json:"wilson_score"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// BleveIndex provides lexical (term-overlap) retrieval over memory
// items. Payloads are cached in a bounded LRU; the cache is invalidated
// by a cheap document-count check so another writer to the same index
// directory does not leave stale entries behind.
type BleveIndex struct {
	index   bleve.Index
	breaker *Breaker

	payloads  *lru.Cache[string, Payload]
	lastCount atomic.Uint64 // shared by concurrent Search calls
}

// NewBleveIndex opens (or creates) the lexical index at path. An empty
// path creates an in-memory index, used by tests.
func NewBleveIndex(path string, breaker *Breaker) (*BleveIndex, error) {
	var idx bleve.Index
	var err error

	mapping := buildLexicalMapping()
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	if breaker == nil {
		breaker = NewBreaker("lexical", 3, 30*time.Second)
	}

	cache, _ := lru.New[string, Payload](DefaultLexicalCacheSize)
	return &BleveIndex{
		index:    idx,
		breaker:  breaker,
		payloads: cache,
	}, nil
}

func buildLexicalMapping() *mapping.IndexMappingImpl {
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	textField := bleve.NewTextFieldMapping()
	numField := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("user_id", keywordField)
	doc.AddFieldMappingsAt("tier", keywordField)
	doc.AddFieldMappingsAt("status", keywordField)
	doc.AddFieldMappingsAt("tags", keywordField)
	doc.AddFieldMappingsAt("content", textField)
	doc.AddFieldMappingsAt("wilson_score", numField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Index stores or replaces one item in the lexical index.
func (b *BleveIndex) Index(ctx context.Context, owner, id string, payload Payload) error {
	doc := lexicalDocument{
		UserID:      owner,
		Tier:        payload.Tier,
		Status:      payload.Status,
		Content:     payload.Content,
		Tags:        payload.Tags,
		WilsonScore: payload.WilsonScore,
		CreatedAt:   payload.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   payload.UpdatedAt.Format(time.RFC3339),
	}
	if err := b.index.Index(id, doc); err != nil {
		b.breaker.RecordFailure()
		return fmt.Errorf("failed to index document %s: %w", id, err)
	}
	b.payloads.Add(id, payload)
	b.breaker.RecordSuccess()
	return nil
}

// maybeInvalidate purges the payload cache when the underlying index
// grew or shrank behind our back. DocCount is cheap, a cache rebuild is
// not, so this only fires on an actual size change.
func (b *BleveIndex) maybeInvalidate() {
	count, err := b.index.DocCount()
	if err != nil {
		return
	}
	prev := b.lastCount.Swap(count)
	if count != prev && prev != 0 {
		b.payloads.Purge()
	}
}

// Search runs term-overlap retrieval for one owner, filtered by tier
// set and active status.
func (b *BleveIndex) Search(ctx context.Context, owner, queryText string, tiers []models.Tier, limit int) ([]Hit, error) {
	b.maybeInvalidate()

	boolQ := bleve.NewBooleanQuery()

	contentQ := bleve.NewMatchQuery(queryText)
	contentQ.SetField("content")
	boolQ.AddMust(contentQ)

	ownerQ := bleve.NewTermQuery(owner)
	ownerQ.SetField("user_id")
	boolQ.AddMust(ownerQ)

	statusQ := bleve.NewTermQuery(models.StatusActive)
	statusQ.SetField("status")
	boolQ.AddMust(statusQ)

	if len(tiers) > 0 {
		tierQ := bleve.NewBooleanQuery()
		for _, t := range tiers {
			tq := bleve.NewTermQuery(string(t))
			tq.SetField("tier")
			tierQ.AddShould(tq)
		}
		tierQ.SetMinShould(1)
		boolQ.AddMust(tierQ)
	}

	req := bleve.NewSearchRequestOptions(boolQ, limit, 0, false)
	req.Fields = []string{"tier", "status", "content", "tags", "wilson_score", "created_at", "updated_at"}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	b.breaker.RecordSuccess()

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		payload, ok := b.payloads.Get(h.ID)
		if !ok {
			payload = payloadFromFields(h.Fields)
			b.payloads.Add(h.ID, payload)
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Payload: payload})
	}
	return hits, nil
}

// payloadFromFields rebuilds a payload from bleve stored fields after a
// cache miss.
func payloadFromFields(fields map[string]interface{}) Payload {
	p := Payload{}
	if v, ok := fields["tier"].(string); ok {
		p.Tier = v
	}
	if v, ok := fields["status"].(string); ok {
		p.Status = v
	}
	if v, ok := fields["content"].(string); ok {
		p.Content = v
	}
	if v, ok := fields["wilson_score"].(float64); ok {
		p.WilsonScore = v
	}
	switch tags := fields["tags"].(type) {
	case string:
		p.Tags = []string{tags}
	case []interface{}:
		for _, t := range tags {
			if s, ok := t.(string); ok {
				p.Tags = append(p.Tags, s)
			}
		}
	}
	if v, ok := fields["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.CreatedAt = t
		}
	}
	if v, ok := fields["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.UpdatedAt = t
		}
	}
	return p
}

// UpdatePayload refreshes the cached payload and reindexes the document
// so tier/status filters see the change.
func (b *BleveIndex) UpdatePayload(ctx context.Context, owner, id string, update PayloadUpdate) error {
	payload, ok := b.payloads.Get(id)
	if !ok {
		return fmt.Errorf("lexical payload for %s not found", id)
	}
	update.ApplyTo(&payload)
	return b.Index(ctx, owner, id, payload)
}

// Delete removes items from the lexical index.
func (b *BleveIndex) Delete(ctx context.Context, owner string, ids []string) error {
	for _, id := range ids {
		if err := b.index.Delete(id); err != nil {
			return fmt.Errorf("failed to delete lexical document %s: %w", id, err)
		}
		b.payloads.Remove(id)
	}
	return nil
}

// IsCircuitOpen reports whether callers should skip this backend.
func (b *BleveIndex) IsCircuitOpen() bool {
	return b.breaker.IsOpen()
}

// Close releases the underlying bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
