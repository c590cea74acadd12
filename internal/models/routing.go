package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ContextType classifies the kind of help a turn is about. Detection is
// keyword-based (Hebrew + English) with "general" as the fallback.
type ContextType string

const (
	ContextDocker           ContextType = "docker"
	ContextDebugging        ContextType = "debugging"
	ContextCodingHelp       ContextType = "coding_help"
	ContextWebSearch        ContextType = "web_search"
	ContextMemoryManagement ContextType = "memory_management"
	ContextDocuments        ContextType = "documents"
	ContextGeneral          ContextType = "general"
)

// TierStats holds per-tier outcome counters for one routing concept.
// WilsonScore is recomputed from the counters on every update.
type TierStats struct {
	Uses         int64   `bson:"uses" json:"uses"`
	Worked       int64   `bson:"worked" json:"worked"`
	Failed       int64   `bson:"failed" json:"failed"`
	Partial      int64   `bson:"partial" json:"partial"`
	Unknown      int64   `bson:"unknown" json:"unknown"`
	SuccessCount float64 `bson:"successCount" json:"success_count"`
	WilsonScore  float64 `bson:"wilsonScore" json:"wilson_score"`
}

// RoutingConcept is a per-owner, per-concept record of which tiers have
// historically answered queries about that concept.
type RoutingConcept struct {
	ID        primitive.ObjectID    `bson:"_id,omitempty" json:"id"`
	UserID    string                `bson:"userId" json:"user_id"`
	Concept   string                `bson:"concept" json:"concept"`
	Tiers     map[string]*TierStats `bson:"tiers" json:"tiers"`
	BestTiers []string              `bson:"bestTiers,omitempty" json:"best_tiers,omitempty"`
	CreatedAt time.Time             `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time             `bson:"updatedAt" json:"updated_at"`
}

// Tier plan sources
const (
	TierPlanSourceDefault = "default"
	TierPlanSourceRouting = "routing_kg"
)

// TierPlan is the router's answer to "which tiers should this query
// search". The working tier is always included.
type TierPlan struct {
	Tiers      []Tier  `json:"tiers"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}
