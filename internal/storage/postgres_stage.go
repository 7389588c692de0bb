package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// SaveStage upserts a pipeline stage keyed by (tenant_id, stage_key).
func (r *PostgresRepo) SaveStage(ctx context.Context, stage model.TenantStage) error {
	stage.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "stage_key"}},
			DoUpdates: clause.AssignmentColumns(stage.GetUpdatableFields()),
		}).Create(&stage)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveStage Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "tenant_stage", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save stage",
			zap.Int64("tenant_id", stage.TenantID),
			zap.String("stage_key", stage.StageKey),
			zap.Error(commitErr))
	}
	return commitErr
}

// DeleteStage removes a stage row. The service layer refuses the call
// while leads still reference the stage.
func (r *PostgresRepo) DeleteStage(ctx context.Context, tenantID int64, stageKey string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND stage_key = ?", tenantID, stageKey).
			Delete(&model.TenantStage{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: stage %s", apperrors.ErrNotFound, stageKey)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "DeleteStage Commit", operation)
	observer.ObserveDbOperationDuration("delete", "tenant_stage", time.Since(startTime), commitErr)

	return commitErr
}

// ListStages returns a tenant's stages in board order.
func (r *PostgresRepo) ListStages(ctx context.Context, tenantID int64) ([]model.TenantStage, error) {
	var stages []model.TenantStage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ?", tenantID).
			Order("order_index asc, id asc").
			Find(&stages)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ListStages", operation)
	observer.ObserveDbOperationDuration("read", "tenant_stage", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to list stages", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return stages, nil
}

// FirstStage returns the tenant's first active stage, where new leads land.
func (r *PostgresRepo) FirstStage(ctx context.Context, tenantID int64) (*model.TenantStage, error) {
	var stage model.TenantStage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND is_active = ?", tenantID, true).
			Order("order_index asc, id asc").
			First(&stage)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FirstStage", operation)
	observer.ObserveDbOperationDuration("read", "tenant_stage", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find first stage", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return &stage, nil
}

// FindStageByKey fetches one stage by its key.
func (r *PostgresRepo) FindStageByKey(ctx context.Context, tenantID int64, stageKey string) (*model.TenantStage, error) {
	var stage model.TenantStage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND stage_key = ?", tenantID, stageKey).
			First(&stage)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindStageByKey", operation)
	observer.ObserveDbOperationDuration("read", "tenant_stage", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find stage",
			zap.Int64("tenant_id", tenantID),
			zap.String("stage_key", stageKey),
			zap.Error(err))
		return nil, err
	}
	return &stage, nil
}

// FindStageByAICategory resolves an AI category to the stage mapped to it.
func (r *PostgresRepo) FindStageByAICategory(ctx context.Context, tenantID int64, category string) (*model.TenantStage, error) {
	var stage model.TenantStage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND ai_category = ? AND is_active = ?", tenantID, category, true).
			Order("order_index asc").
			First(&stage)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindStageByAICategory", operation)
	observer.ObserveDbOperationDuration("read", "tenant_stage", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to resolve AI category",
			zap.Int64("tenant_id", tenantID),
			zap.String("category", category),
			zap.Error(err))
		return nil, err
	}
	return &stage, nil
}

// SeedStages inserts the seed pipeline, skipping keys that already exist.
func (r *PostgresRepo) SeedStages(ctx context.Context, stages []model.TenantStage) error {
	if len(stages) == 0 {
		return nil
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "stage_key"}},
			DoNothing: true,
		}).Create(&stages)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SeedStages Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "tenant_stage", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to seed stages",
			zap.Int64("tenant_id", stages[0].TenantID),
			zap.Error(commitErr))
	}
	return commitErr
}
