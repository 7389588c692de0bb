package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// Stage seed variants.
const (
	SeedDefault  = "default"
	SeedWhatsApp = "whatsapp"
)

// StageService owns the per-tenant stage pipeline.
type StageService struct {
	stageRepo storage.StageRepo
	leadRepo  storage.LeadRepo
}

// NewStageService creates a new stage service
func NewStageService(stageRepo storage.StageRepo, leadRepo storage.LeadRepo) *StageService {
	return &StageService{stageRepo: stageRepo, leadRepo: leadRepo}
}

// Seed inserts one of the seed pipelines for a tenant. Existing stage
// keys are left untouched, so seeding is idempotent.
func (s *StageService) Seed(ctx context.Context, tenantID int64, variant string) error {
	var stages []model.TenantStage
	switch variant {
	case SeedWhatsApp:
		stages = model.WhatsAppStages(tenantID)
	case SeedDefault, "":
		stages = model.DefaultStages(tenantID)
	default:
		return fmt.Errorf("%w: unknown stage seed %q", apperrors.ErrValidation, variant)
	}

	if err := s.stageRepo.SeedStages(ctx, stages); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Seeded stage pipeline",
		zap.Int64("tenant_id", tenantID),
		zap.String("variant", variant),
		zap.Int("stages", len(stages)))
	return nil
}

// List returns a tenant's stages in board order.
func (s *StageService) List(ctx context.Context, tenantID int64) ([]model.TenantStage, error) {
	return s.stageRepo.ListStages(ctx, tenantID)
}

// Save upserts a stage definition.
func (s *StageService) Save(ctx context.Context, stage model.TenantStage) error {
	if stage.StageKey == "" {
		return fmt.Errorf("%w: stage key required", apperrors.ErrValidation)
	}
	return s.stageRepo.SaveStage(ctx, stage)
}

// Delete removes a stage unless leads still sit in it. The guard keeps
// board columns from vanishing under leads.
func (s *StageService) Delete(ctx context.Context, tenantID int64, stageKey string) error {
	count, err := s.leadRepo.CountLeadsInStage(ctx, tenantID, stageKey)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: stage %q still holds %d leads", apperrors.ErrConflict, stageKey, count)
	}
	return s.stageRepo.DeleteStage(ctx, tenantID, stageKey)
}

// Move performs a manual stage transition requested by an operator.
// Manual moves clear the auto-moved flag.
func (s *StageService) Move(ctx context.Context, tenantID int64, lead *model.Lead, stageKey string, actorUserID *int64) error {
	stage, err := s.stageRepo.FindStageByKey(ctx, tenantID, stageKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: unknown stage %q", apperrors.ErrValidation, stageKey)
		}
		return err
	}

	if err := s.leadRepo.UpdateLeadStage(ctx, lead.ID, stage.StageKey, false); err != nil {
		return err
	}
	previous := lead.StageKey
	lead.StageKey = stage.StageKey
	lead.StageAutoMoved = false

	s.recordTransition(ctx, lead, previous, stage.StageKey, actorUserID, false)
	return nil
}

// AutoMove maps an AI category to the tenant's stage carrying it and
// moves the lead there, marking the transition automatic. An unmapped
// category is a no-op, not an error.
func (s *StageService) AutoMove(ctx context.Context, tenantID int64, lead *model.Lead, category string) (bool, error) {
	if category == "" {
		return false, nil
	}

	stage, err := s.stageRepo.FindStageByAICategory(ctx, tenantID, category)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.FromContext(ctx).Debug("AI category has no mapped stage",
				zap.Int64("tenant_id", tenantID),
				zap.String("category", category))
			return false, nil
		}
		return false, err
	}
	if stage.StageKey == lead.StageKey {
		return false, nil
	}

	if err := s.leadRepo.UpdateLeadStage(ctx, lead.ID, stage.StageKey, true); err != nil {
		return false, err
	}
	previous := lead.StageKey
	lead.StageKey = stage.StageKey
	lead.StageAutoMoved = true

	s.recordTransition(ctx, lead, previous, stage.StageKey, nil, true)
	return true, nil
}

// Categorize persists an AI-derived classification on the lead and
// applies the tenant's category→stage mapping. The returned flag says
// whether the lead changed stage.
func (s *StageService) Categorize(ctx context.Context, tenantID int64, lead *model.Lead, category string, score *float64) (bool, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return false, fmt.Errorf("%w: category is required", apperrors.ErrValidation)
	}

	if err := s.leadRepo.SetLeadCategory(ctx, lead.ID, category, score); err != nil {
		return false, err
	}
	lead.AICategory = category
	lead.AIScore = score

	return s.AutoMove(ctx, tenantID, lead, category)
}

func (s *StageService) recordTransition(ctx context.Context, lead *model.Lead, from, to string, actorUserID *int64, auto bool) {
	event := model.LeadEvent{
		TenantID:    lead.TenantID,
		LeadID:      lead.ID,
		EventType:   "stage_changed",
		ActorUserID: actorUserID,
		Payload: utils.MustMarshalJSON(map[string]interface{}{
			"from": from,
			"to":   to,
			"auto": auto,
		}),
	}
	if err := s.leadRepo.SaveLeadEvent(ctx, event); err != nil {
		logger.FromContext(ctx).Warn("Failed to record stage transition",
			zap.Int64("lead_id", lead.ID),
			zap.Error(err))
	}
}
