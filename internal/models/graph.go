package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntityNode is one entity in the content knowledge graph. Quality is a
// running average kept as sum+count so node updates stay pure $inc
// operations and can be batched safely.
type EntityNode struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"userId" json:"user_id"`
	Label        string             `bson:"label" json:"label"`
	Type         string             `bson:"type,omitempty" json:"type,omitempty"`
	QualitySum   float64            `bson:"qualitySum" json:"quality_sum"`
	QualityCount int64              `bson:"qualityCount" json:"quality_count"`
	MemoryIDs    []string           `bson:"memoryIds,omitempty" json:"memory_ids,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updated_at"`
}

// AvgQuality returns the node's running average quality.
func (n *EntityNode) AvgQuality() float64 {
	if n.QualityCount == 0 {
		return 0
	}
	return n.QualitySum / float64(n.QualityCount)
}

// EntityEdge records co-occurrence weight between two entities. LabelA
// and LabelB are stored in lexicographic order so each unordered pair
// maps to exactly one edge document.
type EntityEdge struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"user_id"`
	LabelA    string             `bson:"labelA" json:"label_a"`
	LabelB    string             `bson:"labelB" json:"label_b"`
	Weight    float64            `bson:"weight" json:"weight"`
	CreatedAt time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updated_at"`
}

// MaxActionExamples bounds the example history kept per action stat.
const MaxActionExamples = 10

// ActionEffectiveness tracks how well an action type works for a
// context type, per owner.
type ActionEffectiveness struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"userId" json:"user_id"`
	ContextType ContextType        `bson:"contextType" json:"context_type"`
	ActionType  string             `bson:"actionType" json:"action_type"`

	Uses         int64   `bson:"uses" json:"uses"`
	Worked       int64   `bson:"worked" json:"worked"`
	Failed       int64   `bson:"failed" json:"failed"`
	Partial      int64   `bson:"partial" json:"partial"`
	Unknown      int64   `bson:"unknown" json:"unknown"`
	SuccessCount float64 `bson:"successCount" json:"success_count"`
	WilsonScore  float64 `bson:"wilsonScore" json:"wilson_score"`

	Examples []string `bson:"examples,omitempty" json:"examples,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// ActionRecord is one buffered action inside a conversational turn,
// held in memory until the turn receives an outcome.
type ActionRecord struct {
	ActionType  string      `json:"action_type"`
	ContextType ContextType `json:"context_type"`
	Detail      string      `json:"detail,omitempty"`
	RecordedAt  time.Time   `json:"recorded_at"`
}
