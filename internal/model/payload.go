package model

import "time"

// ContactPatch is the reconciler's input: the partial contact data implied by
// an incoming message or an explicit edit, keyed by external identity.
// Zero-valued fields are treated as absent.
type ContactPatch struct {
	ExternalUserID int64 `json:"external_user_id" validate:"required"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`

	// Originating conversation, used for first-name fallback and for the
	// category/source defaults on create.
	ConversationID    int64            `json:"conversation_id,omitempty"`
	ConversationTitle string           `json:"conversation_title,omitempty"`
	ConversationKind  ConversationKind `json:"conversation_kind,omitempty" validate:"omitempty,oneof=private group supergroup channel"`

	OwnerID int64 `json:"owner_id,omitempty"`

	Rating   int             `json:"rating,omitempty" validate:"omitempty,gte=1,lte=5"`
	Category ContactCategory `json:"category,omitempty" validate:"omitempty,oneof=client partner lead spam other"`
	Source   ContactSource   `json:"source,omitempty" validate:"omitempty,oneof=private group"`
	Tags     []string        `json:"tags,omitempty"`
	Notes    string          `json:"notes,omitempty"`

	// MessageDelta is the implied message_count increment; zero means 1.
	MessageDelta int `json:"message_delta,omitempty" validate:"gte=0"`

	// Timestamp is the patch time. Two patches with the same identity and
	// identical timestamps are treated as the same event; the second one is
	// a no-op.
	Timestamp time.Time `json:"timestamp"`
}

// Delta returns the effective message-count increment of the patch.
func (p ContactPatch) Delta() int {
	if p.MessageDelta <= 0 {
		return 1
	}
	return p.MessageDelta
}

// IncomingMessage is a message event arriving from a business-account chat.
// It drives implicit contact creation and per-message contact touches.
type IncomingMessage struct {
	MessageID int64 `json:"message_id"`
	ChatID    int64 `json:"chat_id" validate:"required"`
	OwnerID   int64 `json:"owner_id"`

	SenderID        int64  `json:"sender_id" validate:"required"`
	SenderFirstName string `json:"sender_first_name,omitempty"`
	SenderLastName  string `json:"sender_last_name,omitempty"`
	SenderUsername  string `json:"sender_username,omitempty"`

	ChatTitle string           `json:"chat_title,omitempty"`
	ChatKind  ConversationKind `json:"chat_kind,omitempty" validate:"omitempty,oneof=private group supergroup channel"`

	Text     string    `json:"text,omitempty"`
	Outgoing bool      `json:"outgoing"`
	SentAt   time.Time `json:"sent_at"`
}

// Patch converts the message event into the contact patch it implies.
func (m IncomingMessage) Patch() ContactPatch {
	return ContactPatch{
		ExternalUserID:    m.SenderID,
		FirstName:         m.SenderFirstName,
		LastName:          m.SenderLastName,
		Username:          m.SenderUsername,
		ConversationID:    m.ChatID,
		ConversationTitle: m.ChatTitle,
		ConversationKind:  m.ChatKind,
		OwnerID:           m.OwnerID,
		Timestamp:         m.SentAt,
	}
}
