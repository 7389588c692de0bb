// Package worker runs the follow-up dispatch loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/internal/usecase"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// FollowupWorkerName keys the heartbeat row for the dispatch loop.
const FollowupWorkerName = "followup_worker"

// FollowupWorker polls for due follow-ups and dispatches them.
// Dispatch is at-least-once: a row is marked sent only after delivery
// succeeded, so a crash between send and mark can resend one nudge.
type FollowupWorker struct {
	followupRepo storage.FollowupRepo
	leadRepo     storage.LeadRepo
	tenantRepo   storage.TenantRepo
	convRepo     storage.ConversationRepo
	followups    *usecase.FollowupService
	sender       usecase.ReplySender
	cfg          config.FollowupConfig
	baseLogger   *zap.Logger
}

// NewFollowupWorker creates the follow-up dispatch worker.
func NewFollowupWorker(
	followupRepo storage.FollowupRepo,
	leadRepo storage.LeadRepo,
	tenantRepo storage.TenantRepo,
	convRepo storage.ConversationRepo,
	followups *usecase.FollowupService,
	sender usecase.ReplySender,
	cfg config.FollowupConfig,
	baseLogger *zap.Logger,
) *FollowupWorker {
	return &FollowupWorker{
		followupRepo: followupRepo,
		leadRepo:     leadRepo,
		tenantRepo:   tenantRepo,
		convRepo:     convRepo,
		followups:    followups,
		sender:       sender,
		cfg:          cfg,
		baseLogger:   baseLogger.Named(FollowupWorkerName),
	}
}

// Run ticks until ctx is cancelled. Intended to be launched in its own
// goroutine by main.
func (w *FollowupWorker) Run(ctx context.Context) {
	ctx = logger.WithLogger(ctx, w.baseLogger)
	log := w.baseLogger

	log.Info("Followup worker started",
		zap.Duration("tick_interval", w.cfg.TickInterval),
		zap.Int("dispatch_budget", w.cfg.DispatchBudget))

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	// First tick immediately so restarts pick up overdue rows fast.
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Followup worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick dispatches one batch of due follow-ups and stamps the heartbeat.
func (w *FollowupWorker) tick(ctx context.Context) {
	log := logger.FromContext(ctx)
	startTime := utils.Now()

	defer func() {
		observer.ObserveFollowupTickDuration(time.Since(startTime))
	}()

	if err := w.followupRepo.Beat(ctx, FollowupWorkerName, startTime); err != nil {
		log.Error("Failed to stamp worker heartbeat", zap.Error(err))
	} else {
		observer.SetWorkerLastBeat(FollowupWorkerName, startTime)
	}

	due, err := w.followupRepo.DuePendingFollowups(ctx, startTime, w.cfg.DispatchBudget)
	if err != nil {
		log.Error("Failed to load due followups", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}
	log.Debug("Dispatching due followups", zap.Int("count", len(due)))

	for i := range due {
		w.dispatch(ctx, &due[i])
	}
}

// dispatch handles one due row. Failures leave the row pending for the
// next tick; rows whose lead no longer qualifies are cancelled.
func (w *FollowupWorker) dispatch(ctx context.Context, row *model.Followup) {
	log := logger.FromContext(ctx).With(
		zap.Int64("followup_id", row.ID),
		zap.Int64("lead_id", row.LeadID),
		zap.Int("step", row.Step),
	)
	ctx = logger.WithLogger(ctx, log)

	lead, err := w.leadRepo.FindLeadByID(ctx, row.LeadID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.cancel(ctx, row, "lead_gone")
			return
		}
		log.Error("Failed to load lead for followup", zap.Error(err))
		return
	}

	if lead.HandoffMode == model.HandoffHuman ||
		lead.Status == model.LeadStatusDone ||
		lead.Status == model.LeadStatusCancelled {
		w.cancel(ctx, row, "lead_closed")
		return
	}

	tenant, err := w.tenantRepo.FindTenantByID(ctx, row.TenantID)
	if err != nil {
		log.Error("Failed to load tenant for followup", zap.Error(err))
		return
	}

	conv, err := w.convRepo.FindConversationByID(ctx, row.ConversationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.cancel(ctx, row, "conversation_gone")
			return
		}
		log.Error("Failed to load conversation for followup", zap.Error(err))
		return
	}

	text := w.followups.MessageFor(tenant, lead)
	if err := w.sender.SendText(ctx, conv.ChannelKind, conv.ChannelIdentity, conv.ExternalID, text); err != nil {
		// Row stays pending; the next tick retries.
		observer.IncFollowupDispatched(row.TenantID, "send_failed")
		log.Warn("Followup send failed, will retry", zap.Error(err))
		return
	}

	if _, err := w.convRepo.AppendMessage(ctx, model.ConversationMessage{
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        text,
	}); err != nil {
		log.Warn("Failed to store followup in history", zap.Error(err))
	}

	if err := w.followupRepo.MarkFollowupSent(ctx, row.ID, utils.Now()); err != nil {
		log.Error("Failed to mark followup sent", zap.Error(err))
		return
	}
	observer.IncFollowupDispatched(row.TenantID, "sent")
	log.Info("Dispatched followup")
}

func (w *FollowupWorker) cancel(ctx context.Context, row *model.Followup, reason string) {
	if _, err := w.followups.CancelForLead(ctx, row.TenantID, row.LeadID, reason); err != nil {
		logger.FromContext(ctx).Error("Failed to cancel followups",
			zap.String("reason", reason),
			zap.Error(err))
	}
}
