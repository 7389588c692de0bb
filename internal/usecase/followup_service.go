package usecase

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// Default follow-up texts per tenant language. {name} becomes ", <name>"
// when the lead has one.
var followupTemplates = map[string]string{
	"ru": "Здравствуйте{name}! Можем рассчитать стоимость для вашего проекта?",
	"kz": "Сәлеметсіз бе{name}! Жобаңыз үшін құнын есептеп бере аламыз ба?",
	"en": "Hello{name}! Can we put together a quote for your project?",
}

// FollowupService schedules and cancels follow-up nudges. Dispatching
// is the worker's job; the two share only the followups table.
type FollowupService struct {
	followupRepo storage.FollowupRepo
	cfg          config.FollowupConfig
}

// NewFollowupService creates a new follow-up service
func NewFollowupService(followupRepo storage.FollowupRepo, cfg config.FollowupConfig) *FollowupService {
	return &FollowupService{followupRepo: followupRepo, cfg: cfg}
}

// ScheduleForLead creates the pending follow-up sequence for a lead.
// Skipped when the lead is in human handoff or already has pending
// rows, so a chatty contact never stacks sequences.
func (s *FollowupService) ScheduleForLead(ctx context.Context, tenant *model.Tenant, lead *model.Lead, conversationID int64) error {
	log := logger.FromContext(ctx)

	if lead.HandoffMode == model.HandoffHuman {
		log.Debug("Lead in human handoff, not scheduling followups", zap.Int64("lead_id", lead.ID))
		return nil
	}

	pending, err := s.followupRepo.HasPendingFollowups(ctx, lead.ID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	delays := tenantFollowupDelays(tenant, s.cfg.DelayMinutes)
	if len(delays) == 0 {
		return nil
	}

	now := utils.Now()
	cumulative := 0
	rows := make([]model.Followup, 0, len(delays))
	for i, delay := range delays {
		cumulative += delay
		rows = append(rows, model.Followup{
			TenantID:       tenant.ID,
			LeadID:         lead.ID,
			ConversationID: conversationID,
			Step:           i + 1,
			Status:         model.FollowupPending,
			ScheduledAt:    now.Add(time.Duration(cumulative) * time.Minute),
		})
	}

	if err := s.followupRepo.ScheduleFollowups(ctx, rows); err != nil {
		return err
	}
	log.Info("Scheduled followups",
		zap.Int64("lead_id", lead.ID),
		zap.Int("steps", len(rows)))
	return nil
}

// CancelForLead cancels every pending follow-up for a lead, typically
// because the contact replied or a human took over.
func (s *FollowupService) CancelForLead(ctx context.Context, tenantID, leadID int64, reason string) (int64, error) {
	cancelled, err := s.followupRepo.CancelPendingFollowups(ctx, leadID)
	if err != nil {
		return 0, err
	}
	if cancelled > 0 {
		observer.IncFollowupCancelled(tenantID, reason)
		logger.FromContext(ctx).Info("Cancelled pending followups",
			zap.Int64("lead_id", leadID),
			zap.Int64("count", cancelled),
			zap.String("reason", reason))
	}
	return cancelled, nil
}

// MessageFor renders the follow-up text for a lead in the tenant's
// language.
func (s *FollowupService) MessageFor(tenant *model.Tenant, lead *model.Lead) string {
	template, ok := followupTemplates[tenant.Language]
	if !ok {
		template = followupTemplates["en"]
	}
	name := strings.TrimSpace(lead.Name)
	if name != "" && !strings.HasPrefix(name, "Клиент") {
		return strings.ReplaceAll(template, "{name}", ", "+name)
	}
	return strings.ReplaceAll(template, "{name}", "")
}

// tenantFollowupDelays parses the tenant's comma separated delay
// minutes, falling back to the configured default sequence.
func tenantFollowupDelays(tenant *model.Tenant, fallback []int) []int {
	if tenant.FollowupDelays == "" {
		return fallback
	}
	parts := strings.Split(tenant.FollowupDelays, ",")
	delays := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			continue
		}
		delays = append(delays, n)
	}
	if len(delays) == 0 {
		return fallback
	}
	return delays
}
