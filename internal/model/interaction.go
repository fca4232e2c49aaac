package model

import "time"

// Interaction is the statistics record tying a Contact to an Owner. Exactly
// one record exists per (ContactID, OwnerID) pair; repeated upserts update
// counters instead of creating duplicates.
type Interaction struct {
	ID        string `json:"id" validate:"required"`
	ContactID string `json:"contact_id" validate:"required"`
	OwnerID   int64  `json:"owner_id" validate:"required"`

	MessageCount       int       `json:"message_count" validate:"gte=0"`
	FirstInteractionAt time.Time `json:"first_interaction_at"`
	LastInteractionAt  time.Time `json:"last_interaction_at"`

	Notes  string `json:"notes,omitempty"`
	Status string `json:"status,omitempty"` // active, blocked, archived

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
