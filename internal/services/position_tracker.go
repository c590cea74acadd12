package services

import (
	"sync"

	"zikaron/internal/models"
)

// TurnState is the snapshot of one owner's last search turn: what was
// asked, which concepts and tiers were involved, and which item sat at
// each 1-indexed result position. Outcome attribution resolves position
// references ("the second one worked") against this.
type TurnState struct {
	Query     string
	Concepts  []string
	TiersUsed []models.Tier
	Positions map[int]string // 1-indexed position -> item ID
}

// ItemIDs returns the position-ordered item IDs of the turn.
func (t *TurnState) ItemIDs() []string {
	ids := make([]string, 0, len(t.Positions))
	for pos := 1; pos <= len(t.Positions); pos++ {
		if id, ok := t.Positions[pos]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// PositionTracker keeps the last search turn per owner. Each new search
// atomically replaces the previous turn; there is no history.
type PositionTracker struct {
	mu    sync.RWMutex
	turns map[string]*TurnState
}

// NewPositionTracker creates a new position tracker
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{turns: make(map[string]*TurnState)}
}

// Record replaces the owner's turn state with the given results.
func (p *PositionTracker) Record(owner, query string, concepts []string, tiersUsed []models.Tier, itemIDs []string) {
	positions := make(map[int]string, len(itemIDs))
	for i, id := range itemIDs {
		positions[i+1] = id
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns[owner] = &TurnState{
		Query:     query,
		Concepts:  concepts,
		TiersUsed: tiersUsed,
		Positions: positions,
	}
}

// Last returns the owner's last turn, or nil when no search happened.
func (p *PositionTracker) Last(owner string) *TurnState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.turns[owner]
}

// Resolve maps a 1-indexed position to an item ID from the last turn.
func (p *PositionTracker) Resolve(owner string, position int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	turn := p.turns[owner]
	if turn == nil {
		return "", false
	}
	id, ok := turn.Positions[position]
	return id, ok
}

// Clear drops the owner's turn state.
func (p *PositionTracker) Clear(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.turns, owner)
}
