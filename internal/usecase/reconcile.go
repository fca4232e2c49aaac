package usecase

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// ReconcileOptions tune the identity reconciler.
type ReconcileOptions struct {
	// PlaceholderName is the last-resort first name for contacts created from
	// messages that carry no usable name at all.
	PlaceholderName string
	// HistoryLimit bounds username_history, most recent first.
	HistoryLimit int
}

// reconcileOutcome is the result of one reconcile step over the in-memory
// contact collection.
type reconcileOutcome struct {
	contacts []model.Contact
	contact  model.Contact
	created  bool
	// applied is false when the patch was recognized as a duplicate event
	// (identical identity and timestamp) and nothing changed.
	applied bool
	// merged counts duplicate records collapsed during conflict repair.
	merged int
}

// reconcileContacts enforces "at most one Contact per external identity" over
// the given collection. It is a pure function: the input slice is not
// mutated, and calling it twice with the same patch yields the same
// collection (the second call is a no-op).
func reconcileContacts(contacts []model.Contact, patch model.ContactPatch, opts ReconcileOptions) reconcileOutcome {
	out := make([]model.Contact, len(contacts))
	copy(out, contacts)

	out, merged := collapseDuplicates(out, patch.ExternalUserID)

	idx := -1
	for i := range out {
		if out[i].ExternalUserID == patch.ExternalUserID {
			idx = i
			break
		}
	}

	if idx >= 0 {
		existing := out[idx]
		if !patch.Timestamp.IsZero() && patch.Timestamp.Equal(existing.LastContactAt) {
			return reconcileOutcome{contacts: out, contact: existing, applied: false, merged: merged}
		}
		out[idx] = mergePatch(existing, patch, opts)
		return reconcileOutcome{contacts: out, contact: out[idx], applied: true, merged: merged}
	}

	created := newContactFromPatch(patch, opts)
	out = append(out, created)
	return reconcileOutcome{contacts: out, contact: created, created: true, applied: true, merged: merged}
}

// collapseDuplicates repairs an identity conflict: when more than one record
// carries the identity, everything merges into the earliest-created record
// and the duplicates are discarded.
func collapseDuplicates(contacts []model.Contact, externalUserID int64) ([]model.Contact, int) {
	var dupes []int
	for i := range contacts {
		if contacts[i].ExternalUserID == externalUserID {
			dupes = append(dupes, i)
		}
	}
	if len(dupes) <= 1 {
		return contacts, 0
	}

	sort.SliceStable(dupes, func(a, b int) bool {
		ca, cb := contacts[dupes[a]], contacts[dupes[b]]
		if !ca.CreatedAt.Equal(cb.CreatedAt) {
			return ca.CreatedAt.Before(cb.CreatedAt)
		}
		return ca.ID < cb.ID
	})

	survivor := contacts[dupes[0]]
	drop := make(map[int]struct{}, len(dupes)-1)
	for _, i := range dupes[1:] {
		dup := contacts[i]
		survivor.MessageCount += dup.MessageCount
		survivor.MergeTags(dup.Tags)
		if dup.LastContactAt.After(survivor.LastContactAt) {
			survivor.LastContactAt = dup.LastContactAt
		}
		if survivor.Notes == "" {
			survivor.Notes = dup.Notes
		}
		drop[i] = struct{}{}
	}

	result := make([]model.Contact, 0, len(contacts)-len(drop))
	for i := range contacts {
		if _, gone := drop[i]; gone {
			continue
		}
		if i == dupes[0] {
			result = append(result, survivor)
			continue
		}
		result = append(result, contacts[i])
	}
	return result, len(drop)
}

// mergePatch folds a patch into an existing contact: scalars overwrite when
// present, message_count increments by the implied delta, last_contact_at
// only advances, tags union, and a username change pushes the previous value
// onto the bounded history.
func mergePatch(existing model.Contact, patch model.ContactPatch, opts ReconcileOptions) model.Contact {
	at := patch.Timestamp
	if at.IsZero() {
		at = utils.Now()
	}

	if patch.Username != "" && patch.Username != existing.Username {
		existing.PushUsernameHistory(at, opts.HistoryLimit)
		existing.Username = patch.Username
	}
	if patch.FirstName != "" {
		existing.FirstName = patch.FirstName
	}
	if patch.LastName != "" {
		existing.LastName = patch.LastName
	}
	if patch.Rating != 0 {
		existing.Rating = patch.Rating
	}
	if patch.Category != "" {
		existing.Category = patch.Category
	}
	if patch.Source != "" {
		existing.Source = patch.Source
	}
	if patch.Notes != "" {
		existing.Notes = patch.Notes
	}
	if patch.OwnerID != 0 {
		existing.OwnerID = patch.OwnerID
	}
	existing.MergeTags(patch.Tags)

	existing.MessageCount += patch.Delta()
	if at.After(existing.LastContactAt) {
		existing.LastContactAt = at
	}
	existing.UpdatedAt = utils.Now()
	return existing
}

// newContactFromPatch builds a fresh contact for an unseen identity. The
// first name resolves by precedence: explicit name, conversation title,
// @username, configured placeholder. Rating defaults to the minimum, and
// category/source derive from the originating conversation kind.
func newContactFromPatch(patch model.ContactPatch, opts ReconcileOptions) model.Contact {
	now := utils.Now()
	at := patch.Timestamp
	if at.IsZero() {
		at = now
	}

	contact := model.Contact{
		ID:             uuid.New().String(),
		ExternalUserID: patch.ExternalUserID,
		FirstName:      resolveFirstName(patch, opts.PlaceholderName),
		LastName:       patch.LastName,
		Username:       patch.Username,
		Rating:         1,
		Notes:          patch.Notes,
		OwnerID:        patch.OwnerID,
		MessageCount:   patch.Delta(),
		LastContactAt:  at,
		SyncStatus:     model.SyncStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if patch.Rating != 0 {
		contact.Rating = patch.Rating
	}

	contact.Category, contact.Source = deriveClassification(patch.ConversationKind)
	if patch.Category != "" {
		contact.Category = patch.Category
	}
	if patch.Source != "" {
		contact.Source = patch.Source
	}
	contact.MergeTags(patch.Tags)
	return contact
}

// resolveFirstName applies the name fallback precedence for created contacts.
func resolveFirstName(patch model.ContactPatch, placeholder string) string {
	if patch.FirstName != "" {
		return patch.FirstName
	}
	if patch.ConversationTitle != "" {
		return patch.ConversationTitle
	}
	if patch.Username != "" {
		return "@" + patch.Username
	}
	return placeholder
}

// deriveClassification maps the originating conversation kind onto the
// default category and source: private chats produce leads, everything else
// lands in the generic bucket.
func deriveClassification(kind model.ConversationKind) (model.ContactCategory, model.ContactSource) {
	if kind == model.KindPrivate || kind == "" {
		return model.CategoryLead, model.SourcePrivate
	}
	return model.CategoryOther, model.SourceGroup
}

// interactionFor builds the (contact, owner) interaction implied by a
// reconcile step.
func interactionFor(contact model.Contact, ownerID int64, at time.Time) *model.Interaction {
	return &model.Interaction{
		ContactID:          contact.ID,
		OwnerID:            ownerID,
		MessageCount:       contact.MessageCount,
		FirstInteractionAt: contact.CreatedAt,
		LastInteractionAt:  at,
		Status:             "active",
	}
}
