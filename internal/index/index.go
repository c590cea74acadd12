// Package index holds the derived retrieval projections of the memory
// store: an embedded vector index (chromem-go) and a lexical full-text
// index (bleve). Both are eventually consistent with the document store
// and can be rebuilt from it; both sit behind circuit breakers so an
// unavailable backend degrades a search instead of failing it.
package index

import (
	"context"
	"time"

	"zikaron/internal/models"
)

// Payload is the cached per-item projection carried by both indexes so
// search can rank and present results without a document-store round
// trip. WilsonScore here is a cached copy pushed out-of-band after
// outcome updates; the document store remains authoritative.
type Payload struct {
	Tier        string    `json:"tier"`
	Status      string    `json:"status"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags,omitempty"`
	WilsonScore float64   `json:"wilson_score"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PayloadUpdate is a partial payload refresh. Nil fields are left
// untouched.
type PayloadUpdate struct {
	Tier        *string
	Status      *string
	WilsonScore *float64
}

// ApplyTo merges the update into a payload.
func (u PayloadUpdate) ApplyTo(p *Payload) {
	if u.Tier != nil {
		p.Tier = *u.Tier
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.WilsonScore != nil {
		p.WilsonScore = *u.WilsonScore
	}
}

// Hit is one scored result from a single backend.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// VectorBackend is the vector similarity index contract.
type VectorBackend interface {
	Upsert(ctx context.Context, owner, id string, vector []float32, payload Payload) error
	Search(ctx context.Context, owner string, vector []float32, tiers []models.Tier, limit int) ([]Hit, error)
	UpdatePayload(ctx context.Context, owner, id string, update PayloadUpdate) error
	Delete(ctx context.Context, owner string, ids []string) error
	IsCircuitOpen() bool
}

// LexicalBackend is the term-overlap index contract.
type LexicalBackend interface {
	Index(ctx context.Context, owner, id string, payload Payload) error
	Search(ctx context.Context, owner, query string, tiers []models.Tier, limit int) ([]Hit, error)
	UpdatePayload(ctx context.Context, owner, id string, update PayloadUpdate) error
	Delete(ctx context.Context, owner string, ids []string) error
	IsCircuitOpen() bool
}
