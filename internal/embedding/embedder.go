// Package embedding treats embedding generation as an opaque function
// text -> vector. A nil vector or an error never aborts memory storage:
// callers store to the document store regardless and mark the item for
// deferred reindexing.
package embedding

import "context"

// Embedder converts text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
