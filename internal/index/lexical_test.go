package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"zikaron/internal/models"
)

func newTestBleveIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("", nil)
	if err != nil {
		t.Fatalf("failed to create in-memory index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func testPayload(content string) Payload {
	now := time.Now()
	return Payload{
		Tier:      string(models.TierWorking),
		Status:    models.StatusActive,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestBleveIndexRoundTrip(t *testing.T) {
	idx := newTestBleveIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, "u1", "m1", testPayload("restart the docker daemon")); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	hits, err := idx.Search(ctx, "u1", "docker", []models.Tier{models.TierWorking}, 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Fatalf("expected one hit for m1, got %v", hits)
	}
	if hits[0].Payload.Content != "restart the docker daemon" {
		t.Errorf("payload lost content: %+v", hits[0].Payload)
	}
}

func TestBleveIndexConcurrentSearchAndWrite(t *testing.T) {
	idx := newTestBleveIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, "u1", "seed", testPayload("docker restart policy")); err != nil {
		t.Fatalf("seed index failed: %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("w%d-m%d", w, i)
				if err := idx.Index(ctx, "u1", id, testPayload("docker compose notes")); err != nil {
					errCh <- err
					return
				}
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := idx.Search(ctx, "u1", "docker", nil, 10); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent index/search failed: %v", err)
	}
}
