package services

import (
	"context"
	"time"

	"zikaron/internal/models"
	"zikaron/internal/stats"
)

// Engine is the embedding surface of the memory engine: one façade over
// storage, search, the learning loop and the lifecycle automaton, with
// metrics and event publication folded in. Hosts embed this type; the
// HTTP server only exposes health and metrics.
type Engine struct {
	Storage   *MemoryStorageService
	Search    *SearchService
	Outcomes  *OutcomeService
	Promotion *PromotionService
	Routing   *RoutingService
	ContentKG *ContentKGService
	Actions   *ActionTracker
	Ghosts    *GhostRegistry
	Tracker   *PositionTracker

	metrics *Metrics
	events  *RedisService
}

// NewEngine bundles the services into one engine. metrics and events
// may be nil.
func NewEngine(
	storage *MemoryStorageService,
	search *SearchService,
	outcomes *OutcomeService,
	promotion *PromotionService,
	routing *RoutingService,
	contentKG *ContentKGService,
	actions *ActionTracker,
	ghosts *GhostRegistry,
	tracker *PositionTracker,
	metrics *Metrics,
	events *RedisService,
) *Engine {
	return &Engine{
		Storage:   storage,
		Search:    search,
		Outcomes:  outcomes,
		Promotion: promotion,
		Routing:   routing,
		ContentKG: contentKG,
		Actions:   actions,
		Ghosts:    ghosts,
		Tracker:   tracker,
		metrics:   metrics,
		events:    events,
	}
}

// Remember stores one memory item and publishes a stored event.
func (e *Engine) Remember(ctx context.Context, owner string, input StoreInput) (*models.MemoryItem, bool, error) {
	item, deduped, err := e.Storage.Store(ctx, owner, input)
	if err != nil {
		return nil, false, err
	}

	if e.metrics != nil {
		e.metrics.RecordStore(deduped)
	}
	if !deduped {
		e.events.PublishEvent(ctx, ChannelMemoryStored, MemoryEvent{
			UserID: owner,
			ItemID: item.ID.Hex(),
			Tier:   string(item.Tier),
		})
	}
	return item, deduped, nil
}

// Recall runs one search turn.
func (e *Engine) Recall(ctx context.Context, owner string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	resp, err := e.Search.Search(ctx, owner, opts)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordSearch(resp.Confidence, resp.FromCache, time.Since(start).Seconds(), len(resp.Results))
	}
	return resp, nil
}

// Reinforce applies an outcome to referenced items from the last turn.
func (e *Engine) Reinforce(ctx context.Context, owner string, refs []string, outcome stats.Outcome) (*OutcomeReport, error) {
	report, err := e.Outcomes.RecordOutcome(ctx, owner, refs, outcome)
	if err != nil {
		return report, err
	}

	if e.metrics != nil {
		e.metrics.RecordOutcome(string(outcome))
	}
	for _, itemID := range report.ItemIDs {
		e.events.PublishEvent(ctx, ChannelMemoryOutcome, MemoryEvent{
			UserID:  owner,
			ItemID:  itemID,
			Outcome: string(outcome),
		})
	}
	return report, nil
}

// CloseTurn records a turn's outcome, stores its key takeaway and
// flushes the buffered action statistics.
func (e *Engine) CloseTurn(ctx context.Context, owner, conversationID string, turn int, outcome stats.Outcome, keyTakeaway string) (*OutcomeReport, error) {
	report, err := e.Outcomes.RecordResponse(ctx, owner, conversationID, turn, outcome, keyTakeaway)
	if err != nil {
		return report, err
	}
	if e.metrics != nil {
		e.metrics.RecordOutcome(string(outcome))
	}
	return report, nil
}

// RunLifecycle runs one lifecycle cycle for one owner.
func (e *Engine) RunLifecycle(ctx context.Context, owner string) (*CycleStats, error) {
	cycleStats, err := e.Promotion.RunCycle(ctx, owner)
	if err != nil {
		return cycleStats, err
	}
	if e.metrics != nil {
		e.metrics.RecordCycle(cycleStats)
	}
	if cycleStats.Promoted > 0 {
		e.events.PublishEvent(ctx, ChannelMemoryPromoted, MemoryEvent{UserID: owner})
	}
	return cycleStats, nil
}
