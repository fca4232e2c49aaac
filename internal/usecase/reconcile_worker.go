package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/apperrors"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/cache"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
)

// ReconcileTaskData holds the necessary data for one reconcile task.
type ReconcileTaskData struct {
	Ctx     context.Context // Context derived for the task, NOT the original request context
	Message model.IncomingMessage
}

// IReconcileWorker defines the interface for the reconcile worker pool.
type IReconcileWorker interface {
	SubmitTask(taskData ReconcileTaskData) error
	Stop()
}

// ReconcileWorker fans incoming message events out to a worker pool that
// drives contact reconciliation. The per-session guard cache short-circuits
// identities already reconciled so repeated conversation-opened events stay
// cheap.
type ReconcileWorker struct {
	pool       *ants.PoolWithFunc
	service    *CRMService
	guard      *cache.ReconcileGuard
	cfg        config.ReconcileWorkerPoolConfig
	baseLogger *zap.Logger
}

// Ensure ReconcileWorker implements IReconcileWorker
var _ IReconcileWorker = (*ReconcileWorker)(nil)

// NewReconcileWorker creates and initializes a new reconcile worker pool.
func NewReconcileWorker(
	cfg config.ReconcileWorkerPoolConfig,
	service *CRMService,
	guard *cache.ReconcileGuard,
	baseLogger *zap.Logger,
) (*ReconcileWorker, error) {
	worker := &ReconcileWorker{
		service:    service,
		guard:      guard,
		cfg:        cfg,
		baseLogger: baseLogger.Named("reconcile_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(ReconcileTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processReconcileTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in reconcile worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Reconcile worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
		zap.Duration("max_block_time", cfg.MaxBlock),
	)
	return worker, nil
}

// SubmitTask submits a new reconcile task to the worker pool.
func (w *ReconcileWorker) SubmitTask(taskData ReconcileTaskData) error {
	start := time.Now()
	observer.IncReconcileTasksSubmitted()
	observer.SetReconcileQueueLength(w.pool.Waiting())

	err := w.pool.Invoke(taskData)
	duration := time.Since(start)

	if err != nil {
		w.baseLogger.Warn("Failed to submit reconcile task to pool",
			zap.Int64("chat_id", taskData.Message.ChatID),
			zap.Int64("sender_id", taskData.Message.SenderID),
			zap.Duration("submit_duration", duration),
			zap.Error(err),
		)
		observer.IncReconcileTasksProcessed("submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("reconcile pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke reconcile task: %w", err)
	}

	w.baseLogger.Debug("Successfully submitted reconcile task",
		zap.Int64("chat_id", taskData.Message.ChatID),
		zap.Duration("submit_duration", duration),
	)
	return nil
}

// processReconcileTask contains the actual logic executed by a worker goroutine.
func (w *ReconcileWorker) processReconcileTask(taskData ReconcileTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.Int64("task_chat_id", taskData.Message.ChatID),
		zap.Int64("task_sender_id", taskData.Message.SenderID),
	)

	start := time.Now()
	status := "success"

	msg := taskData.Message
	if msg.Outgoing || msg.SenderID == 0 {
		log.Debug("Skipping reconcile task: not an incoming user message")
		observer.IncReconcileTasksProcessed("skipped_not_applicable")
		return
	}

	// The guard check keeps repeat text-less events off the reconcile path:
	// identities already reconciled this session have nothing to gain from a
	// bare conversation-opened event, and an event without an owner cannot
	// assign one to an identity already known to be unassigned. A bloom false
	// positive is corrected later because the full upsert still runs whenever
	// the message carries new payload.
	if w.guard != nil && msg.Text == "" {
		switch w.guard.CheckStatus(msg.SenderID, msg.OwnerID) {
		case cache.StatusMaybeReconciled:
			log.Debug("Skipping reconcile task: identity already reconciled this session")
			observer.IncReconcileTasksProcessed("skipped_guard_hit")
			return
		case cache.StatusMaybeUnassigned:
			log.Debug("Skipping reconcile task: identity known unassigned and event carries no owner")
			observer.IncReconcileTasksProcessed("skipped_unassigned")
			return
		}
	}

	_, err := w.service.HandleIncomingMessage(taskData.Ctx, msg)
	switch {
	case err == nil:
	case apperrors.IsAuthExpiredError(err):
		log.Warn("Reconcile task hit expired session", zap.Error(err))
		status = "auth_expired"
	case apperrors.IsValidationError(err):
		log.Warn("Reconcile task rejected by validation", zap.Error(err))
		status = "validation_error"
	default:
		log.Error("Reconcile task failed", zap.Error(err))
		status = "failure"
	}

	duration := time.Since(start)
	observer.ObserveReconcileProcessingDuration(duration)
	observer.IncReconcileTasksProcessed(status)

	log.Debug("Finished processing reconcile task", zap.Duration("duration", duration), zap.String("final_status", status))
}

// Stop gracefully shuts down the worker pool.
func (w *ReconcileWorker) Stop() {
	if w.pool != nil {
		w.baseLogger.Info("Releasing reconcile worker pool")
		start := time.Now()
		w.pool.Release()
		w.baseLogger.Info("Reconcile worker pool released", zap.Duration("duration", time.Since(start)))
	}
}
