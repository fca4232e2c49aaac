package model

import (
	"strings"
	"time"
)

// ConversationKind is the Telegram chat type.
type ConversationKind string

const (
	KindPrivate    ConversationKind = "private"
	KindGroup      ConversationKind = "group"
	KindSupergroup ConversationKind = "supergroup"
	KindChannel    ConversationKind = "channel"
)

// Conversation is a chat tracked for a business account. OwnerID must
// reference an existing Owner; the repairer is the only writer allowed to
// break that invariant, and only during its own pass.
type Conversation struct {
	ID   int64            `json:"id" validate:"required"`
	Kind ConversationKind `json:"kind" validate:"omitempty,oneof=private group supergroup channel"`

	Title     string `json:"title,omitempty"` // groups and channels
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`

	UnreadCount  int  `json:"unread_count" validate:"gte=0"`
	MessageCount int  `json:"message_count" validate:"gte=0"`
	Pinned       bool `json:"pinned"`
	Muted        bool `json:"muted"`

	OwnerID int64 `json:"owner_id"`
	// LegacyManagerRef carries the pre-v3 manager reference. Kept only as a
	// best-effort hint for the migrator and the repairer.
	LegacyManagerRef string `json:"manager_id,omitempty"`

	LastMessage   *Message  `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// DisplayName resolves the human-readable name of the conversation:
// title, else first/last name, else @username, else empty.
func (c Conversation) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return ""
}

// ChatMember is one participant observed in a group conversation. Telegram
// pushes no member list, so members accumulate from message traffic.
type ChatMember struct {
	ChatID int64 `json:"chat_id" validate:"required"`
	UserID int64 `json:"user_id" validate:"required"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`

	MessageCount int       `json:"message_count"`
	LastSeenAt   time.Time `json:"last_seen_at,omitempty"`
	JoinedAt     time.Time `json:"joined_at,omitempty"`
}

// Message is a single chat message. The sync engine only cares about enough
// of it to drive contact reconciliation and the last-message preview.
type Message struct {
	ID       int64 `json:"id"`
	ChatID   int64 `json:"chat_id"`
	SenderID int64 `json:"sender_id"`

	SenderFirstName string `json:"sender_first_name,omitempty"`
	SenderLastName  string `json:"sender_last_name,omitempty"`
	SenderUsername  string `json:"sender_username,omitempty"`

	Text     string `json:"text,omitempty"`
	Kind     string `json:"kind,omitempty"` // text, photo, document
	Outgoing bool   `json:"outgoing"`

	SentAt time.Time `json:"sent_at"`
}
