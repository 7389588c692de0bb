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

// SaveRule upserts an auto-assignment rule by primary key. The rr_cursor
// column is deliberately excluded from the update set; it only moves
// through AdvanceRRCursor.
func (r *PostgresRepo) SaveRule(ctx context.Context, rule model.AutoAssignRule) error {
	rule.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(rule.GetUpdatableFields()),
		}).Create(&rule)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveRule Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "auto_assign_rule", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save rule",
			zap.Int64("tenant_id", rule.TenantID),
			zap.Error(commitErr))
	}
	return commitErr
}

// DeleteRule removes one rule scoped to its tenant.
func (r *PostgresRepo) DeleteRule(ctx context.Context, tenantID, ruleID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND id = ?", tenantID, ruleID).
			Delete(&model.AutoAssignRule{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: rule %d", apperrors.ErrNotFound, ruleID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "DeleteRule Commit", operation)
	observer.ObserveDbOperationDuration("delete", "auto_assign_rule", time.Since(startTime), commitErr)

	return commitErr
}

// ListActiveRules returns a tenant's active rules ordered by ascending
// priority, then id for stability between equal priorities.
func (r *PostgresRepo) ListActiveRules(ctx context.Context, tenantID int64) ([]model.AutoAssignRule, error) {
	var rules []model.AutoAssignRule

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND is_active = ?", tenantID, true).
			Order("priority asc, id asc").
			Find(&rules)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ListActiveRules", operation)
	observer.ObserveDbOperationDuration("read", "auto_assign_rule", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to list rules", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return rules, nil
}

// AdvanceRRCursor increments the round-robin cursor in a single
// UPDATE ... RETURNING, so two concurrent assignments can never observe
// the same cursor value.
func (r *PostgresRepo) AdvanceRRCursor(ctx context.Context, ruleID int64) (int64, error) {
	var cursor int64

	operation := func() error {
		row := r.db.WithContext(ctx).Raw(`
			UPDATE auto_assign_rules
			SET rr_cursor = rr_cursor + 1, updated_at = ?
			WHERE id = ?
			RETURNING rr_cursor`, utils.Now(), ruleID).Row()
		if err := row.Scan(&cursor); err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AdvanceRRCursor Commit", operation)
	observer.ObserveDbOperationDuration("update", "auto_assign_rule", time.Since(startTime), commitErr)

	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return 0, commitErr
		}
		logger.FromContext(ctx).Error("Failed to advance round-robin cursor",
			zap.Int64("rule_id", ruleID),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return cursor, nil
}
