package model

import (
	"strings"
	"time"
)

// ContactCategory classifies a contact for the CRM views.
type ContactCategory string

const (
	CategoryClient  ContactCategory = "client"
	CategoryPartner ContactCategory = "partner"
	CategoryLead    ContactCategory = "lead"
	CategorySpam    ContactCategory = "spam"
	CategoryOther   ContactCategory = "other"
)

// ContactSource records where a contact was first seen.
type ContactSource string

const (
	SourcePrivate ContactSource = "private"
	SourceGroup   ContactSource = "group"
)

// SyncStatus tracks whether a record has been mirrored to the remote backend.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// UsernameEntry is one previous username of a contact. The history never
// contains the currently active username.
type UsernameEntry struct {
	Value     string    `json:"value"`
	ChangedAt time.Time `json:"changed_at"`
}

// Contact is a deduplicated CRM record for a Telegram user. At most one
// Contact exists per ExternalUserID in the local store at any time.
type Contact struct {
	ID string `json:"id" validate:"required"` // local identity (uuid)
	// RemoteID is the backend row id, zero until the record has been synced.
	RemoteID int64 `json:"remote_id,omitempty"`
	// ExternalUserID is the Telegram user id used as the dedup identity key.
	ExternalUserID int64 `json:"external_user_id" validate:"required"`

	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	// UsernameHistory holds previous usernames, most recent first, bounded.
	UsernameHistory []UsernameEntry `json:"username_history,omitempty"`

	Rating   int             `json:"rating" validate:"gte=1,lte=5"`
	Category ContactCategory `json:"category" validate:"oneof=client partner lead spam other"`
	Source   ContactSource   `json:"source" validate:"oneof=private group"`
	Tags     []string        `json:"tags,omitempty"`
	Notes    string          `json:"notes,omitempty"`

	// Business profile fields, optional.
	BrandName        string     `json:"brand_name,omitempty"`
	Position         string     `json:"position,omitempty"`
	YearsInMarket    int        `json:"years_in_market,omitempty"`
	RegistrationDate *time.Time `json:"registration_date,omitempty"`

	OwnerID int64 `json:"owner_id,omitempty"`

	MessageCount  int       `json:"message_count" validate:"gte=0"`
	LastContactAt time.Time `json:"last_contact_at,omitempty"`

	SyncStatus  SyncStatus `json:"sync_status,omitempty"`
	SyncRetries int        `json:"sync_retries,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// HasTag reports whether the contact carries the given tag (case-insensitive).
func (c Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// DisplayName resolves the contact's human-readable name.
func (c Contact) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return ""
}

// PushUsernameHistory records the contact's current username as a previous
// value and bounds the history to limit entries, most recent first. It is the
// caller's responsibility to overwrite Username afterwards.
func (c *Contact) PushUsernameHistory(at time.Time, limit int) {
	if c.Username == "" {
		return
	}
	entry := UsernameEntry{Value: c.Username, ChangedAt: at}
	c.UsernameHistory = append([]UsernameEntry{entry}, c.UsernameHistory...)
	if limit > 0 && len(c.UsernameHistory) > limit {
		c.UsernameHistory = c.UsernameHistory[:limit]
	}
}

// MergeTags unions the given tags into the contact's tag set, preserving
// existing order and case while deduplicating case-insensitively.
func (c *Contact) MergeTags(tags []string) {
	for _, tag := range tags {
		if tag == "" || c.HasTag(tag) {
			continue
		}
		c.Tags = append(c.Tags, tag)
	}
}

// ContactStats is the aggregate summary used by the analytics view.
type ContactStats struct {
	Total       int                     `json:"total"`
	ByCategory  map[ContactCategory]int `json:"by_category"`
	ByRating    map[int]int             `json:"by_rating"`
	PendingSync int                     `json:"pending_sync"`
}
