package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// SaveTenant upserts a tenant keyed by slug.
func (r *PostgresRepo) SaveTenant(ctx context.Context, t model.Tenant) error {
	t.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns(t.GetUpdatableFields()),
		}).Create(&t)

		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveTenant Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "tenant", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save tenant after retries", zap.String("slug", t.Slug), zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// FindTenantByID fetches a tenant by primary key.
func (r *PostgresRepo) FindTenantByID(ctx context.Context, id int64) (*model.Tenant, error) {
	var t model.Tenant

	operation := func() error {
		result := r.db.WithContext(ctx).First(&t, id)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindTenantByID", operation)
	observer.ObserveDbOperationDuration("read", "tenant", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find tenant", zap.Int64("tenant_id", id), zap.Error(err))
		return nil, err
	}
	return &t, nil
}

// ListTenants returns all tenants, optionally only active ones.
func (r *PostgresRepo) ListTenants(ctx context.Context, activeOnly bool) ([]model.Tenant, error) {
	var tenants []model.Tenant

	operation := func() error {
		q := r.db.WithContext(ctx).Order("id asc")
		if activeOnly {
			q = q.Where("is_active = ?", true)
		}
		if result := q.Find(&tenants); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ListTenants", operation)
	observer.ObserveDbOperationDuration("read", "tenant", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to list tenants", zap.Error(err))
		return nil, err
	}
	return tenants, nil
}

// SaveBinding upserts a channel binding keyed by (channel_kind, identity).
func (r *PostgresRepo) SaveBinding(ctx context.Context, b model.ChannelBinding) error {
	b.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_kind"}, {Name: "identity"}},
			DoUpdates: clause.AssignmentColumns(b.GetUpdatableFields()),
		}).Create(&b)

		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveBinding Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "channel_binding", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save channel binding after retries",
			zap.String("channel_kind", string(b.ChannelKind)),
			zap.String("identity", b.Identity),
			zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// ResolveBinding looks up the active binding for a channel identity.
// A missing or inactive binding yields ErrUnauthorized so callers fail
// closed instead of guessing a tenant.
func (r *PostgresRepo) ResolveBinding(ctx context.Context, kind model.ChannelKind, identity string) (*model.ChannelBinding, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: empty channel identity", apperrors.ErrBadRequest)
	}

	var b model.ChannelBinding

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("channel_kind = ? AND identity = ?", kind, identity).
			First(&b)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ResolveBinding", operation)
	observer.ObserveDbOperationDuration("read", "channel_binding", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no binding for %s/%s", apperrors.ErrUnauthorized, kind, identity)
		}
		logger.FromContext(ctx).Error("Failed to resolve channel binding",
			zap.String("channel_kind", string(kind)),
			zap.String("identity", identity),
			zap.Error(err))
		return nil, err
	}

	if !b.IsActive {
		return nil, fmt.Errorf("%w: binding for %s/%s is inactive", apperrors.ErrUnauthorized, kind, identity)
	}

	return &b, nil
}

// SaveStaff upserts a staff member by primary key.
func (r *PostgresRepo) SaveStaff(ctx context.Context, s model.Staff) error {
	s.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role", "is_active", "updated_at"}),
		}).Create(&s)

		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveStaff Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "staff", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save staff after retries", zap.Int64("staff_id", s.ID), zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// FindStaffByID fetches one staff member.
func (r *PostgresRepo) FindStaffByID(ctx context.Context, id int64) (*model.Staff, error) {
	var s model.Staff

	operation := func() error {
		result := r.db.WithContext(ctx).First(&s, id)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindStaffByID", operation)
	observer.ObserveDbOperationDuration("read", "staff", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find staff", zap.Int64("staff_id", id), zap.Error(err))
		return nil, err
	}
	return &s, nil
}

// ListActiveStaff returns active staff for a tenant ordered by id. The
// ordering is what makes round-robin rotation and least-loaded
// tie-breaks deterministic.
func (r *PostgresRepo) ListActiveStaff(ctx context.Context, tenantID int64) ([]model.Staff, error) {
	var staff []model.Staff

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND is_active = ?", tenantID, true).
			Order("id asc").
			Find(&staff)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ListActiveStaff", operation)
	observer.ObserveDbOperationDuration("read", "staff", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to list active staff", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return staff, nil
}
