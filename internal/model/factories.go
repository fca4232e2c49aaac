package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewOwner creates a new Owner instance with default fake data.
func NewOwner(overrideDefaults ...*Owner) *Owner {
	ref := int64(gofakeit.Number(100000, 999999))
	base := &Owner{
		ID:          int64(gofakeit.Number(1, 10000)),
		DisplayName: gofakeit.Company(),
		Username:    gofakeit.Username(),
		ExternalRef: &ref,
		Enabled:     true,
		CreatedAt:   utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.DisplayName != "" {
			base.DisplayName = ovr.DisplayName
		}
		if ovr.Username != "" {
			base.Username = ovr.Username
		}
		if ovr.ExternalRef != nil {
			base.ExternalRef = ovr.ExternalRef
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		base.Enabled = ovr.Enabled
	}
	return base
}

// NewConversation creates a new Conversation instance with default fake data.
func NewConversation(overrideDefaults ...*Conversation) *Conversation {
	base := &Conversation{
		ID:           int64(gofakeit.Number(1000000, 9999999)),
		Kind:         KindPrivate,
		FirstName:    gofakeit.FirstName(),
		LastName:     gofakeit.LastName(),
		Username:     gofakeit.Username(),
		UnreadCount:  gofakeit.Number(0, 20),
		MessageCount: gofakeit.Number(1, 200),
		OwnerID:      1,
		CreatedAt:    utils.Now().Add(-time.Duration(gofakeit.Number(1, 500)) * time.Hour),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.Kind != "" {
			base.Kind = ovr.Kind
		}
		if ovr.Title != "" {
			base.Title = ovr.Title
		}
		if ovr.FirstName != "" {
			base.FirstName = ovr.FirstName
		}
		if ovr.Username != "" {
			base.Username = ovr.Username
		}
		if ovr.OwnerID != 0 {
			base.OwnerID = ovr.OwnerID
		}
		if ovr.LegacyManagerRef != "" {
			base.LegacyManagerRef = ovr.LegacyManagerRef
		}
		if ovr.UnreadCount != 0 {
			base.UnreadCount = ovr.UnreadCount
		}
		base.Pinned = ovr.Pinned
		base.Muted = ovr.Muted
	}
	return base
}

// NewContact creates a new Contact instance with default fake data.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:             uuid.New().String(),
		ExternalUserID: int64(gofakeit.Number(1000000, 99999999)),
		FirstName:      gofakeit.FirstName(),
		LastName:       gofakeit.LastName(),
		Username:       gofakeit.Username(),
		Rating:         1,
		Category:       CategoryLead,
		Source:         SourcePrivate,
		MessageCount:   1,
		OwnerID:        1,
		SyncStatus:     SyncStatusSynced,
		LastContactAt:  utils.Now(),
		CreatedAt:      utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:      utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ExternalUserID != 0 {
			base.ExternalUserID = ovr.ExternalUserID
		}
		if ovr.FirstName != "" {
			base.FirstName = ovr.FirstName
		}
		if ovr.LastName != "" {
			base.LastName = ovr.LastName
		}
		if ovr.Username != "" {
			base.Username = ovr.Username
		}
		if ovr.Rating != 0 {
			base.Rating = ovr.Rating
		}
		if ovr.Category != "" {
			base.Category = ovr.Category
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.OwnerID != 0 {
			base.OwnerID = ovr.OwnerID
		}
		if ovr.MessageCount != 0 {
			base.MessageCount = ovr.MessageCount
		}
		if ovr.SyncStatus != "" {
			base.SyncStatus = ovr.SyncStatus
		}
		if len(ovr.Tags) > 0 {
			base.Tags = ovr.Tags
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.LastContactAt.IsZero() {
			base.LastContactAt = ovr.LastContactAt
		}
	}
	return base
}

// NewTransferRecord creates a new TransferRecord instance with default fake data.
func NewTransferRecord(overrideDefaults ...*TransferRecord) *TransferRecord {
	base := &TransferRecord{
		ID:                uuid.New().String(),
		SupplierContactID: uuid.New().String(),
		ClientContactID:   uuid.New().String(),
		Status:            TransferNew,
		Notes:             gofakeit.Sentence(6),
		CreatedAt:         utils.Now(),
		UpdatedAt:         utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.SupplierContactID != "" {
			base.SupplierContactID = ovr.SupplierContactID
		}
		if ovr.ClientContactID != "" {
			base.ClientContactID = ovr.ClientContactID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Notes != "" {
			base.Notes = ovr.Notes
		}
	}
	return base
}

// NewIncomingMessage creates a new IncomingMessage event with default fake data.
func NewIncomingMessage(overrideDefaults ...*IncomingMessage) *IncomingMessage {
	base := &IncomingMessage{
		MessageID:       int64(gofakeit.Number(1, 1000000)),
		ChatID:          int64(gofakeit.Number(1000000, 9999999)),
		OwnerID:         1,
		SenderID:        int64(gofakeit.Number(1000000, 99999999)),
		SenderFirstName: gofakeit.FirstName(),
		SenderUsername:  gofakeit.Username(),
		ChatKind:        KindPrivate,
		Text:            gofakeit.Sentence(8),
		SentAt:          utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.MessageID != 0 {
			base.MessageID = ovr.MessageID
		}
		if ovr.ChatID != 0 {
			base.ChatID = ovr.ChatID
		}
		if ovr.OwnerID != 0 {
			base.OwnerID = ovr.OwnerID
		}
		if ovr.SenderID != 0 {
			base.SenderID = ovr.SenderID
		}
		if ovr.SenderFirstName != "" {
			base.SenderFirstName = ovr.SenderFirstName
		}
		if ovr.SenderUsername != "" {
			base.SenderUsername = ovr.SenderUsername
		}
		if ovr.ChatKind != "" {
			base.ChatKind = ovr.ChatKind
		}
		if !ovr.SentAt.IsZero() {
			base.SentAt = ovr.SentAt
		}
		base.Outgoing = ovr.Outgoing
	}
	return base
}
