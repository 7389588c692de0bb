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

// ScheduleFollowups inserts pending follow-up rows.
func (r *PostgresRepo) ScheduleFollowups(ctx context.Context, rows []model.Followup) error {
	if len(rows) == 0 {
		return nil
	}

	now := utils.Now()
	for i := range rows {
		rows[i].CreatedAt = now
		rows[i].UpdatedAt = now
		if rows[i].Status == "" {
			rows[i].Status = model.FollowupPending
		}
	}

	operation := func() error {
		if result := r.db.WithContext(ctx).Create(&rows); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ScheduleFollowups Commit", operation)
	observer.ObserveDbOperationDuration("insert", "followup", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to schedule followups",
			zap.Int64("lead_id", rows[0].LeadID),
			zap.Int("count", len(rows)),
			zap.Error(commitErr))
	}
	return commitErr
}

// DuePendingFollowups returns pending rows whose scheduled time has
// passed, oldest first. Rows stay pending until the dispatch succeeds,
// so a crashed tick is retried by the next one.
func (r *PostgresRepo) DuePendingFollowups(ctx context.Context, now time.Time, limit int) ([]model.Followup, error) {
	var rows []model.Followup

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND scheduled_at <= ?", model.FollowupPending, now).
			Order("scheduled_at asc").
			Limit(limit).
			Find(&rows)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "DuePendingFollowups", operation)
	observer.ObserveDbOperationDuration("read", "followup", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to load due followups", zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// MarkFollowupSent flips one pending row to sent.
func (r *PostgresRepo) MarkFollowupSent(ctx context.Context, id int64, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Followup{}).
			Where("id = ? AND status = ?", id, model.FollowupPending).
			Updates(map[string]interface{}{
				"status":     model.FollowupSent,
				"sent_at":    at,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: pending followup %d", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkFollowupSent Commit", operation)
	observer.ObserveDbOperationDuration("update", "followup", time.Since(startTime), commitErr)

	return commitErr
}

// CancelPendingFollowups cancels every pending row for a lead and
// returns how many were cancelled.
func (r *PostgresRepo) CancelPendingFollowups(ctx context.Context, leadID int64) (int64, error) {
	var cancelled int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Followup{}).
			Where("lead_id = ? AND status = ?", leadID, model.FollowupPending).
			Updates(map[string]interface{}{
				"status":     model.FollowupCancelled,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		cancelled = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CancelPendingFollowups Commit", operation)
	observer.ObserveDbOperationDuration("update", "followup", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to cancel followups", zap.Int64("lead_id", leadID), zap.Error(commitErr))
		return 0, commitErr
	}
	return cancelled, nil
}

// HasPendingFollowups reports whether a lead already has pending rows.
func (r *PostgresRepo) HasPendingFollowups(ctx context.Context, leadID int64) (bool, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Followup{}).
			Where("lead_id = ? AND status = ?", leadID, model.FollowupPending).
			Count(&count)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "HasPendingFollowups", operation)
	observer.ObserveDbOperationDuration("read", "followup", time.Since(startTime), err)

	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Beat upserts the worker heartbeat row in one statement.
func (r *PostgresRepo) Beat(ctx context.Context, workerName string, at time.Time) error {
	hb := model.WorkerHeartbeat{
		WorkerName: workerName,
		LastBeatAt: at,
		UpdatedAt:  utils.Now(),
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "worker_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_beat_at", "updated_at"}),
		}).Create(&hb)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "Beat Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "worker_heartbeat", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to record heartbeat",
			zap.String("worker", workerName),
			zap.Error(commitErr))
	}
	return commitErr
}

// GetHeartbeat fetches the heartbeat row for a worker. ErrNotFound means
// the worker has never beaten, reported as status unknown.
func (r *PostgresRepo) GetHeartbeat(ctx context.Context, workerName string) (*model.WorkerHeartbeat, error) {
	var hb model.WorkerHeartbeat

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("worker_name = ?", workerName).
			First(&hb)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "GetHeartbeat", operation)
	observer.ObserveDbOperationDuration("read", "worker_heartbeat", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to read heartbeat", zap.String("worker", workerName), zap.Error(err))
		return nil, err
	}
	return &hb, nil
}
