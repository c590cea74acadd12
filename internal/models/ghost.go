package models

import "time"

// DefaultGhostTTL is how long a soft-deleted item stays excluded from
// search before the sweep forgets about it.
const DefaultGhostTTL = 7 * 24 * time.Hour

// GhostRecord marks a soft-deleted memory item. While a ghost exists
// the item is excluded from search results without being physically
// removed, so a restore is always possible within the TTL window.
type GhostRecord struct {
	ID        string    `bson:"_id" json:"id"` // uuid
	UserID    string    `bson:"userId" json:"user_id"`
	ItemID    string    `bson:"itemId" json:"item_id"`
	Tier      Tier      `bson:"tier" json:"tier"`
	Reason    string    `bson:"reason,omitempty" json:"reason,omitempty"`
	GhostedAt time.Time `bson:"ghostedAt" json:"ghosted_at"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expires_at"`
}
