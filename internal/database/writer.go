package database

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// applyFunc persists one batch of write models against a collection.
type applyFunc func(ctx context.Context, collection string, batch []mongo.WriteModel) error

// WriteSerializer guarantees at-most-one in-flight batched write per
// collection. Knowledge-graph updates enqueue a group of node/edge/stat
// deltas as one batch; interleaving two concurrent batches would corrupt
// the aggregate counts, so Flush for the same collection is strictly
// serialized and batches are applied in enqueue order.
type WriteSerializer struct {
	mu     sync.Mutex
	queues map[string][][]mongo.WriteModel // pending batches, FIFO per collection

	flightMu sync.Mutex
	inFlight map[string]*sync.Mutex // per-collection flush lock

	apply applyFunc
}

// NewWriteSerializer creates a serializer that applies batches with
// ordered BulkWrite calls against db.
func NewWriteSerializer(db *MongoDB) *WriteSerializer {
	w := newWriteSerializer(nil)
	w.apply = func(ctx context.Context, collection string, batch []mongo.WriteModel) error {
		_, err := db.Collection(collection).BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(true))
		return err
	}
	return w
}

func newWriteSerializer(apply applyFunc) *WriteSerializer {
	return &WriteSerializer{
		queues:   make(map[string][][]mongo.WriteModel),
		inFlight: make(map[string]*sync.Mutex),
		apply:    apply,
	}
}

// Enqueue appends one batch of deltas for a collection. The batch is
// applied as a unit, after every batch enqueued before it.
func (w *WriteSerializer) Enqueue(collection string, batch ...mongo.WriteModel) {
	if len(batch) == 0 {
		return
	}
	w.mu.Lock()
	w.queues[collection] = append(w.queues[collection], batch)
	w.mu.Unlock()
}

// Pending returns the number of batches waiting for a collection.
func (w *WriteSerializer) Pending(collection string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queues[collection])
}

// collectionLock returns the flush lock for a collection.
func (w *WriteSerializer) collectionLock(collection string) *sync.Mutex {
	w.flightMu.Lock()
	defer w.flightMu.Unlock()
	lock, ok := w.inFlight[collection]
	if !ok {
		lock = &sync.Mutex{}
		w.inFlight[collection] = lock
	}
	return lock
}

// Flush applies the oldest pending batch for a collection. A Flush
// issued while another is in progress for the same collection waits for
// it to complete before its own batch is applied; no delta is dropped
// or reordered relative to enqueue order. Returns the number of deltas
// applied (0 when the queue is empty).
func (w *WriteSerializer) Flush(ctx context.Context, collection string) (int, error) {
	lock := w.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	w.mu.Lock()
	pending := w.queues[collection]
	if len(pending) == 0 {
		w.mu.Unlock()
		return 0, nil
	}
	batch := pending[0]
	w.queues[collection] = pending[1:]
	w.mu.Unlock()

	if err := w.apply(ctx, collection, batch); err != nil {
		// Re-queue at the head so a retry preserves ordering.
		w.mu.Lock()
		w.queues[collection] = append([][]mongo.WriteModel{batch}, w.queues[collection]...)
		w.mu.Unlock()
		return 0, fmt.Errorf("failed to flush batch for %s: %w", collection, err)
	}

	return len(batch), nil
}

// FlushAll drains every pending batch for a collection, in order.
func (w *WriteSerializer) FlushAll(ctx context.Context, collection string) (int, error) {
	total := 0
	for {
		n, err := w.Flush(ctx, collection)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// DrainAll flushes every collection with pending batches. Used on
// shutdown so no enqueued KG delta is lost.
func (w *WriteSerializer) DrainAll(ctx context.Context) {
	w.mu.Lock()
	collections := make([]string, 0, len(w.queues))
	for name, batches := range w.queues {
		if len(batches) > 0 {
			collections = append(collections, name)
		}
	}
	w.mu.Unlock()

	for _, name := range collections {
		if _, err := w.FlushAll(ctx, name); err != nil {
			log.Printf("⚠️ [WRITER] Failed to drain %s: %v", name, err)
		}
	}
}
