package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Tier is a named bucket in the memory lifecycle. Promotion is
// one-directional: working -> history -> patterns. The documents and
// memory_bank tiers are protected: outcome scoring and the lifecycle
// automaton never touch them.
type Tier string

const (
	TierWorking    Tier = "working"
	TierHistory    Tier = "history"
	TierPatterns   Tier = "patterns"
	TierDocuments  Tier = "documents"
	TierMemoryBank Tier = "memory_bank"
)

// AllTiers returns the full fixed tier list, in lifecycle order.
func AllTiers() []Tier {
	return []Tier{TierWorking, TierHistory, TierPatterns, TierDocuments, TierMemoryBank}
}

// IsProtected reports whether a tier is exempt from outcome scoring,
// promotion and eviction.
func (t Tier) IsProtected() bool {
	return t == TierDocuments || t == TierMemoryBank
}

// ValidTier reports whether s names a known tier.
func ValidTier(s string) bool {
	switch Tier(s) {
	case TierWorking, TierHistory, TierPatterns, TierDocuments, TierMemoryBank:
		return true
	}
	return false
}

// Memory item status values
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Source origin kinds
const (
	SourceConversation = "conversation"
	SourceTool         = "tool"
	SourceDocument     = "document"
	SourceManual       = "manual"
)

// SourceRef records where a memory came from.
type SourceRef struct {
	Kind           string `bson:"kind" json:"kind"`
	ConversationID string `bson:"conversationId,omitempty" json:"conversation_id,omitempty"`
	ToolName       string `bson:"toolName,omitempty" json:"tool_name,omitempty"`
	DocumentID     string `bson:"documentId,omitempty" json:"document_id,omitempty"`
}

// MemoryItem is a stored fact. The document store is the source of
// truth; the vector and lexical indexes carry derived copies of the
// scoring fields and may lag behind.
//
// Invariant: WilsonScore and SuccessRate are always derivable from the
// outcome counters. They are only ever recomputed after a counter
// update, never set independently.
type MemoryItem struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID string             `bson:"userId" json:"user_id"`

	Tier   Tier   `bson:"tier" json:"tier"`
	Status string `bson:"status" json:"status"`

	Content     string    `bson:"content" json:"content"`
	ContentHash string    `bson:"contentHash" json:"content_hash"` // SHA-256 of normalized content, exact re-ingestion guard
	Tags        []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	Source      SourceRef `bson:"source" json:"source"`

	// Quality signals
	Importance   float64 `bson:"importance" json:"importance"`
	Confidence   float64 `bson:"confidence" json:"confidence"`
	QualityScore float64 `bson:"qualityScore" json:"quality_score"`

	// Usage statistics (outcome counters are the source of truth for
	// WilsonScore and SuccessRate)
	Uses         int64      `bson:"uses" json:"uses"`
	WorkedCount  int64      `bson:"workedCount" json:"worked_count"`
	FailedCount  int64      `bson:"failedCount" json:"failed_count"`
	PartialCount int64      `bson:"partialCount" json:"partial_count"`
	UnknownCount int64      `bson:"unknownCount" json:"unknown_count"`
	SuccessCount float64    `bson:"successCount" json:"success_count"` // fractional, cumulative
	WilsonScore  float64    `bson:"wilsonScore" json:"wilson_score"`
	SuccessRate  float64    `bson:"successRate" json:"success_rate"`
	LastUsedAt   *time.Time `bson:"lastUsedAt,omitempty" json:"last_used_at,omitempty"`

	// Set when embedding generation failed at store time; the deferred
	// reindex sweep picks these up.
	NeedsIndex bool `bson:"needsIndex,omitempty" json:"needs_index,omitempty"`

	CreatedAt  time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt  time.Time  `bson:"updatedAt" json:"updated_at"`
	ArchivedAt *time.Time `bson:"archivedAt,omitempty" json:"archived_at,omitempty"`

	Version int64 `bson:"version" json:"version"`
}
