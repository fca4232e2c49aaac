package model

import "time"

// Owner is the business entity (Telegram Business account) that conversations
// and contacts belong to. Owners partition dependent entities; removing an
// owner always triggers a referential repair pass over its dependents.
type Owner struct {
	ID          int64  `json:"id" validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
	Username    string `json:"username,omitempty"`
	// ExternalRef is the Telegram user id behind the business connection,
	// when known.
	ExternalRef *int64    `json:"external_ref,omitempty"`
	Enabled     bool      `json:"is_enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// FirstOwner returns the canonical "first" owner of a set: earliest CreatedAt,
// ties broken by lowest ID. The repairer and the migrator both rely on this
// ordering being stable.
func FirstOwner(owners []Owner) (Owner, bool) {
	if len(owners) == 0 {
		return Owner{}, false
	}
	first := owners[0]
	for _, o := range owners[1:] {
		if o.CreatedAt.Before(first.CreatedAt) ||
			(o.CreatedAt.Equal(first.CreatedAt) && o.ID < first.ID) {
			first = o
		}
	}
	return first, true
}

// OwnerIDSet builds a membership set of owner ids.
func OwnerIDSet(owners []Owner) map[int64]struct{} {
	set := make(map[int64]struct{}, len(owners))
	for _, o := range owners {
		set[o.ID] = struct{}{}
	}
	return set
}
