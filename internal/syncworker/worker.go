package syncworker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// ContactFlusher is the slice of the CRM service the flusher drives.
type ContactFlusher interface {
	RemoteAvailable(ctx context.Context) bool
	PendingContacts() []model.Contact
	SyncContact(ctx context.Context, contact model.Contact) (*model.Contact, error)
	RecordContactSyncRetry(ctx context.Context, id string) int
	MarkContactSyncFailed(ctx context.Context, contact model.Contact, lastErr string)
}

// Worker periodically replays optimistic contact writes that never reached
// the backend. Each record carries its own exponential backoff; a record that
// exhausts the retry budget is parked as failed and recorded for operator
// inspection.
type Worker struct {
	cfg     config.FlushConfig
	logger  *zap.Logger
	service ContactFlusher

	nextAttempt map[string]time.Time

	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a pending-sync flusher.
func NewWorker(cfg config.FlushConfig, service ContactFlusher, baseLogger *zap.Logger) *Worker {
	return &Worker{
		cfg:         cfg,
		logger:      baseLogger.Named("sync_flusher"),
		service:     service,
		nextAttempt: make(map[string]time.Time),
	}
}

// Start begins the flush loop. It blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting sync flusher", zap.Duration("interval", w.cfg.Interval))

	w.stopWg.Add(1)
	go w.run(derivedCtx)

	<-derivedCtx.Done()
	w.logger.Info("Sync flusher context cancelled, initiating shutdown...")
	return nil
}

// Stop gracefully shuts down the flusher.
func (w *Worker) Stop() {
	w.logger.Info("Stopping sync flusher...")
	if w.cancel != nil {
		w.cancel()
	}
	w.stopWg.Wait()
	w.logger.Info("Sync flusher stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.stopWg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Flush loop stopping due to context cancellation")
			return
		case <-ticker.C:
			w.FlushCycle(ctx)
		}
	}
}

// FlushCycle runs one scan over the pending contacts. Exported so a session
// refresh can trigger an immediate flush instead of waiting for the ticker.
func (w *Worker) FlushCycle(ctx context.Context) {
	// A panic in one cycle must not kill the flush loop.
	defer utils.RecoverWithLog(ctx, "sync flush cycle")

	observer.IncFlushCycle()

	flushCtx := logger.WithLogger(ctx, w.logger)
	if !w.service.RemoteAvailable(flushCtx) {
		w.logger.Debug("Backend session unavailable, skipping flush cycle")
		return
	}

	pending := w.service.PendingContacts()
	if len(pending) == 0 {
		return
	}
	w.logger.Debug("Flushing pending contacts", zap.Int("count", len(pending)))

	now := time.Now()
	for _, contact := range pending {
		if next, gated := w.nextAttempt[contact.ID]; gated && now.Before(next) {
			continue
		}

		synced, err := w.service.SyncContact(flushCtx, contact)
		if err == nil && synced != nil && synced.SyncStatus == model.SyncStatusSynced {
			delete(w.nextAttempt, contact.ID)
			observer.IncFlushContact("synced")
			continue
		}
		if err != nil {
			// Session died mid-cycle; the remaining records wait for renewal.
			w.logger.Warn("Flush aborted, backend session expired", zap.Error(err))
			observer.IncFlushContact("auth_expired")
			return
		}

		attempts := w.service.RecordContactSyncRetry(flushCtx, contact.ID)
		if attempts == 0 {
			delete(w.nextAttempt, contact.ID)
			continue
		}
		if attempts >= w.cfg.MaxRetries {
			w.logger.Warn("Retry budget exhausted, parking contact as failed",
				zap.String("contact_id", contact.ID),
				zap.Int64("external_user_id", contact.ExternalUserID),
				zap.Int("attempts", attempts))
			w.service.MarkContactSyncFailed(flushCtx, contact, "remote mirror unavailable")
			delete(w.nextAttempt, contact.ID)
			observer.IncFlushDropped()
			observer.IncFlushContact("failed")
			continue
		}

		delay := calculateBackoffDelay(attempts, w.cfg.BaseDelay, w.cfg.MaxDelay)
		w.nextAttempt[contact.ID] = now.Add(delay)
		w.logger.Debug("Scheduling contact flush retry",
			zap.String("contact_id", contact.ID),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay))
		observer.IncFlushRetry()
		observer.IncFlushContact("retried")
	}
}

// calculateBackoffDelay doubles the base delay per attempt, capped.
func calculateBackoffDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 1 {
		return baseDelay
	}
	delay := baseDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxDelay || delay < baseDelay {
		delay = maxDelay
	}
	return delay
}
