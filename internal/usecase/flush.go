package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// RemoteAvailable reports whether the backend session is currently usable.
// The flusher checks this before a cycle so offline periods do not burn
// per-record retry budgets.
func (s *CRMService) RemoteAvailable(ctx context.Context) bool {
	return s.adapter.SessionValid(ctx)
}

// PendingContacts returns the contacts still awaiting a remote mirror.
func (s *CRMService) PendingContacts() []model.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Contact
	for _, c := range s.contacts {
		if c.SyncStatus == model.SyncStatusPending {
			out = append(out, c)
		}
	}
	return out
}

// SyncContact replays one optimistic write against the backend and folds the
// result back into the collection.
func (s *CRMService) SyncContact(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	synced, err := s.adapter.CreateOrUpdateContact(ctx, &contact)
	if synced != nil {
		s.replaceContact(ctx, *synced)
	}
	return synced, err
}

// RecordContactSyncRetry bumps a contact's retry counter and returns the new
// attempt count. Zero means the contact is gone.
func (s *CRMService) RecordContactSyncRetry(ctx context.Context, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contacts {
		if s.contacts[i].ID == id {
			s.contacts[i].SyncRetries++
			s.persistContactsLocked(ctx)
			return s.contacts[i].SyncRetries
		}
	}
	return 0
}

// MarkContactSyncFailed parks a contact that exhausted its retry budget and
// records the failure for operator inspection. Failed records are left alone
// until the next explicit edit resets their status.
func (s *CRMService) MarkContactSyncFailed(ctx context.Context, contact model.Contact, lastErr string) {
	s.mu.Lock()
	for i := range s.contacts {
		if s.contacts[i].ID == contact.ID {
			s.contacts[i].SyncStatus = model.SyncStatusFailed
			s.persistContactsLocked(ctx)
			break
		}
	}
	s.mu.Unlock()

	var failures []model.SyncFailure
	if err := s.snapshots.Load(ctx, model.CollectionSyncFailures, &failures); err != nil {
		logger.FromContext(ctx).Error("Loading sync failures snapshot failed", zap.Error(err))
		return
	}
	failures = append(failures, model.SyncFailure{
		ID:             uuid.New().String(),
		ContactID:      contact.ID,
		ExternalUserID: contact.ExternalUserID,
		Attempts:       contact.SyncRetries + 1,
		LastError:      lastErr,
		FailedAt:       utils.Now(),
	})
	if err := s.snapshots.Save(ctx, model.CollectionSyncFailures, failures); err != nil {
		logger.FromContext(ctx).Error("Persisting sync failures failed", zap.Error(err))
	}
}
