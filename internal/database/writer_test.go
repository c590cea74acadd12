package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func updateModel(key string) mongo.WriteModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": key}).
		SetUpdate(bson.M{"$inc": bson.M{"weight": 1}}).
		SetUpsert(true)
}

// TestFlushAppliesBatchesInEnqueueOrder tests FIFO batch ordering
func TestFlushAppliesBatchesInEnqueueOrder(t *testing.T) {
	var applied [][]mongo.WriteModel
	w := newWriteSerializer(func(ctx context.Context, collection string, batch []mongo.WriteModel) error {
		applied = append(applied, batch)
		return nil
	})

	first := updateModel("a")
	second := updateModel("b")
	w.Enqueue("kg_entity_nodes", first)
	w.Enqueue("kg_entity_nodes", second)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := w.Flush(ctx, "kg_entity_nodes"); err != nil {
			t.Fatalf("Flush %d failed: %v", i, err)
		}
	}

	if len(applied) != 2 {
		t.Fatalf("Expected 2 batched writes, got %d", len(applied))
	}
	if applied[0][0] != first || applied[1][0] != second {
		t.Error("Batches applied out of enqueue order")
	}
}

// TestConcurrentFlushesNeverOverlap verifies the second flush's write
// begins only after the first completes, and both deltas are persisted
// in two separate batched writes.
func TestConcurrentFlushesNeverOverlap(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	var applied [][]mongo.WriteModel

	w := newWriteSerializer(func(ctx context.Context, collection string, batch []mongo.WriteModel) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond) // widen the overlap window

		mu.Lock()
		inFlight--
		applied = append(applied, batch)
		mu.Unlock()
		return nil
	})

	w.Enqueue("kg_entity_edges", updateModel("x"))
	w.Enqueue("kg_entity_edges", updateModel("y"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Flush(context.Background(), "kg_entity_edges"); err != nil {
				t.Errorf("Flush failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("Expected at most 1 in-flight write, observed %d", maxInFlight)
	}
	if len(applied) != 2 {
		t.Errorf("Expected both deltas persisted in 2 batched writes, got %d", len(applied))
	}
	if w.Pending("kg_entity_edges") != 0 {
		t.Error("Expected empty queue after both flushes")
	}
}

// TestFlushesForDifferentCollectionsDoNotBlock tests per-collection locking
func TestFlushesForDifferentCollectionsDoNotBlock(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)

	w := newWriteSerializer(func(ctx context.Context, collection string, batch []mongo.WriteModel) error {
		started <- collection
		if collection == "kg_entity_nodes" {
			<-release
		}
		return nil
	})

	w.Enqueue("kg_entity_nodes", updateModel("a"))
	w.Enqueue("kg_entity_edges", updateModel("b"))

	go w.Flush(context.Background(), "kg_entity_nodes")

	// Wait until the slow nodes flush is inside apply.
	<-started

	done := make(chan struct{})
	go func() {
		w.Flush(context.Background(), "kg_entity_edges")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Edge flush blocked behind an unrelated collection's flush")
	}
	close(release)
}

// TestFailedFlushRequeuesBatch tests that a failed batch is retried in order
func TestFailedFlushRequeuesBatch(t *testing.T) {
	calls := 0
	w := newWriteSerializer(func(ctx context.Context, collection string, batch []mongo.WriteModel) error {
		calls++
		if calls == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	w.Enqueue("routing_concepts", updateModel("a"))

	if _, err := w.Flush(context.Background(), "routing_concepts"); err == nil {
		t.Fatal("Expected first flush to fail")
	}
	if w.Pending("routing_concepts") != 1 {
		t.Fatal("Expected failed batch to be re-queued")
	}

	n, err := w.Flush(context.Background(), "routing_concepts")
	if err != nil {
		t.Fatalf("Retry flush failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 delta applied on retry, got %d", n)
	}
}

// TestFlushAllDrainsQueue tests FlushAll
func TestFlushAllDrainsQueue(t *testing.T) {
	batches := 0
	w := newWriteSerializer(func(ctx context.Context, collection string, batch []mongo.WriteModel) error {
		batches++
		return nil
	})

	w.Enqueue("action_stats", updateModel("a"), updateModel("b"))
	w.Enqueue("action_stats", updateModel("c"))

	total, err := w.FlushAll(context.Background(), "action_stats")
	if err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected 3 deltas applied, got %d", total)
	}
	if batches != 2 {
		t.Errorf("Expected 2 batched writes, got %d", batches)
	}
}
