package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// seqInsertAttempts bounds the retry loop for the rare case where two
// creators in the same group compute the same next sequence number and
// one loses on the unique index.
const seqInsertAttempts = 3

// CreateLead computes the next per-group sequence number and inserts the
// lead in one statement. The unique index on (group, seq_number) turns a
// concurrent double-allocation into a 23505, which we retry with a fresh
// number, so groups stay gapless and duplicate-free.
func (r *PostgresRepo) CreateLead(ctx context.Context, lead *model.Lead) error {
	// Tenant-less leads number per owner, so the owner must be known.
	if lead.TenantID == nil && lead.OwnerID == 0 {
		return fmt.Errorf("%w: lead without tenant or owner", apperrors.ErrBadRequest)
	}

	now := utils.Now()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	if lead.HandoffMode == "" {
		lead.HandoffMode = model.HandoffAI
	}

	// Numbering group: the tenant when set, otherwise the owning user.
	groupTenant := lead.GroupTenantID()
	groupOwner := int64(0)
	if lead.TenantID == nil {
		groupOwner = lead.OwnerID
	}

	startTime := utils.Now()
	var lastErr error
	for attempt := 0; attempt < seqInsertAttempts; attempt++ {
		operation := func() error {
			row := r.db.WithContext(ctx).Raw(`
				INSERT INTO leads (
					tenant_id, owner_id, seq_number, conversation_id, external_id, source,
					name, phone, city, object_type, area, summary, language,
					status, stage_key, stage_auto_moved, handoff_mode,
					assigned_user_id, assigned_at, first_assigned_at, created_at, updated_at
				)
				SELECT
					?, ?, COALESCE(MAX(seq_number), 0) + 1, ?, ?, ?,
					?, ?, ?, ?, ?, ?, ?,
					?, ?, ?, ?,
					?, ?, ?, ?, ?
				FROM leads
				WHERE COALESCE(tenant_id, 0) = ?
				  AND CASE WHEN tenant_id IS NULL THEN owner_id ELSE 0 END = ?
				RETURNING id, seq_number`,
				lead.TenantID, lead.OwnerID, lead.ConversationID, lead.ExternalID, lead.Source,
				lead.Name, lead.Phone, lead.City, lead.ObjectType, lead.Area, lead.Summary, lead.Language,
				lead.Status, lead.StageKey, lead.StageAutoMoved, lead.HandoffMode,
				lead.AssignedUserID, lead.AssignedAt, lead.FirstAssignedAt, lead.CreatedAt, lead.UpdatedAt,
				groupTenant, groupOwner,
			).Row()

			if err := row.Scan(&lead.ID, &lead.SeqNumber); err != nil {
				return checkConstraintViolation(err)
			}
			return nil
		}

		commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
		lastErr = retryableOperation(ctx, commitPolicy, "CreateLead Commit", operation)
		if lastErr == nil {
			observer.ObserveDbOperationDuration("insert", "lead", time.Since(startTime), nil)
			return nil
		}
		if !errors.Is(lastErr, apperrors.ErrDuplicate) {
			break
		}
		logger.FromContext(ctx).Warn("Lead sequence collision, retrying with fresh number",
			zap.Int64("owner_id", lead.OwnerID),
			zap.Int("attempt", attempt+1))
	}

	observer.ObserveDbOperationDuration("insert", "lead", time.Since(startTime), lastErr)
	logger.FromContext(ctx).Error("Failed to create lead", zap.Int64("owner_id", lead.OwnerID), zap.Error(lastErr))
	return lastErr
}

// FindLeadByID fetches one lead.
func (r *PostgresRepo) FindLeadByID(ctx context.Context, id int64) (*model.Lead, error) {
	var lead model.Lead

	operation := func() error {
		result := r.db.WithContext(ctx).First(&lead, id)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindLeadByID", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find lead", zap.Int64("lead_id", id), zap.Error(err))
		return nil, err
	}
	return &lead, nil
}

// FindLeadByExternalID fetches the lead carrying this external id for a tenant.
func (r *PostgresRepo) FindLeadByExternalID(ctx context.Context, tenantID int64, externalID string) (*model.Lead, error) {
	var lead model.Lead

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
			First(&lead)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindLeadByExternalID", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find lead by external id",
			zap.Int64("tenant_id", tenantID),
			zap.String("external_id", externalID),
			zap.Error(err))
		return nil, err
	}
	return &lead, nil
}

// FindRecentLeadByPhone fetches the newest lead for this normalized
// phone created at or after since. Used for the trailing dedup window.
func (r *PostgresRepo) FindRecentLeadByPhone(ctx context.Context, tenantID int64, phone string, since time.Time) (*model.Lead, error) {
	var lead model.Lead

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND phone = ? AND created_at >= ?", tenantID, phone, since).
			Order("created_at desc").
			First(&lead)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindRecentLeadByPhone", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find lead by phone",
			zap.Int64("tenant_id", tenantID),
			zap.Error(err))
		return nil, err
	}
	return &lead, nil
}

// FindOpenLeadByConversation fetches the newest non-terminal lead bound
// to a conversation.
func (r *PostgresRepo) FindOpenLeadByConversation(ctx context.Context, conversationID int64) (*model.Lead, error) {
	var lead model.Lead

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ? AND status IN ?", conversationID,
				[]string{model.LeadStatusNew, model.LeadStatusInProgress}).
			Order("created_at desc").
			First(&lead)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindOpenLeadByConversation", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find open lead for conversation",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err))
		return nil, err
	}
	return &lead, nil
}

// ListLeads returns a page of a tenant's leads, newest first, plus the
// total count.
func (r *PostgresRepo) ListLeads(ctx context.Context, tenantID int64, limit, offset int) ([]model.Lead, int64, error) {
	var leads []model.Lead
	var total int64

	operation := func() error {
		base := r.db.WithContext(ctx).Model(&model.Lead{}).Where("tenant_id = ?", tenantID)
		if result := base.Count(&total); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		result := base.Order("created_at desc").Limit(limit).Offset(offset).Find(&leads)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ListLeads", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to list leads", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, 0, err
	}
	return leads, total, nil
}

// updateLeadFields applies a partial update stamping updated_at.
func (r *PostgresRepo) updateLeadFields(ctx context.Context, opName string, leadID int64, updates map[string]interface{}) error {
	updates["updated_at"] = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Lead{}).
			Where("id = ?", leadID).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: lead %d", apperrors.ErrNotFound, leadID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, opName, operation)
	observer.ObserveDbOperationDuration("update", "lead", time.Since(startTime), commitErr)

	if commitErr != nil && !errors.Is(commitErr, apperrors.ErrNotFound) {
		logger.FromContext(ctx).Error("Failed to update lead", zap.Int64("lead_id", leadID), zap.Error(commitErr))
	}
	return commitErr
}

// UpdateLeadStatus sets the lead status.
func (r *PostgresRepo) UpdateLeadStatus(ctx context.Context, leadID int64, status string) error {
	return r.updateLeadFields(ctx, "UpdateLeadStatus Commit", leadID, map[string]interface{}{
		"status": status,
	})
}

// UpdateLeadStage sets the current stage and whether it was auto-moved.
func (r *PostgresRepo) UpdateLeadStage(ctx context.Context, leadID int64, stageKey string, autoMoved bool) error {
	return r.updateLeadFields(ctx, "UpdateLeadStage Commit", leadID, map[string]interface{}{
		"stage_key":        stageKey,
		"stage_auto_moved": autoMoved,
	})
}

// AssignLead sets the assignee, stamping assigned_at and, on the first
// assignment, first_assigned_at.
func (r *PostgresRepo) AssignLead(ctx context.Context, leadID int64, userID int64) error {
	now := utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Exec(`
			UPDATE leads
			SET assigned_user_id = ?,
			    assigned_at = ?,
			    first_assigned_at = COALESCE(first_assigned_at, ?),
			    updated_at = ?
			WHERE id = ?`, userID, now, now, now, leadID)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: lead %d", apperrors.ErrNotFound, leadID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AssignLead Commit", operation)
	observer.ObserveDbOperationDuration("update", "lead", time.Since(startTime), commitErr)

	if commitErr != nil && !errors.Is(commitErr, apperrors.ErrNotFound) {
		logger.FromContext(ctx).Error("Failed to assign lead",
			zap.Int64("lead_id", leadID),
			zap.Int64("user_id", userID),
			zap.Error(commitErr))
	}
	return commitErr
}

// UnassignLead clears the assignee and assigned_at. first_assigned_at
// stays, keeping the record of when the lead was first picked up.
func (r *PostgresRepo) UnassignLead(ctx context.Context, leadID int64) error {
	return r.updateLeadFields(ctx, "UnassignLead Commit", leadID, map[string]interface{}{
		"assigned_user_id": nil,
		"assigned_at":      nil,
	})
}

// SetLeadPhone fills the phone field. Only used when the current value
// is empty, so an accidental double capture never overwrites.
func (r *PostgresRepo) SetLeadPhone(ctx context.Context, leadID int64, phone string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Lead{}).
			Where("id = ? AND (phone = '' OR phone IS NULL)", leadID).
			Updates(map[string]interface{}{
				"phone":      phone,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SetLeadPhone Commit", operation)
	observer.ObserveDbOperationDuration("update", "lead", time.Since(startTime), commitErr)

	return commitErr
}

// SetLeadHandoff sets the handoff mode (ai or human).
func (r *PostgresRepo) SetLeadHandoff(ctx context.Context, leadID int64, mode string) error {
	return r.updateLeadFields(ctx, "SetLeadHandoff Commit", leadID, map[string]interface{}{
		"handoff_mode": mode,
	})
}

// SetLeadCategory stores the AI-derived classification on the lead.
func (r *PostgresRepo) SetLeadCategory(ctx context.Context, leadID int64, category string, score *float64) error {
	return r.updateLeadFields(ctx, "SetLeadCategory Commit", leadID, map[string]interface{}{
		"ai_category": category,
		"ai_score":    score,
	})
}

// CountActiveLeadsByUser counts new/in-progress leads per assignee
// created at or after since. Feeds the least-loaded strategy.
func (r *PostgresRepo) CountActiveLeadsByUser(ctx context.Context, tenantID int64, since time.Time) (map[int64]int64, error) {
	type row struct {
		AssignedUserID int64
		Count          int64
	}
	var rows []row

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Lead{}).
			Select("assigned_user_id, COUNT(*) as count").
			Where("tenant_id = ? AND assigned_user_id IS NOT NULL AND status IN ? AND created_at >= ?",
				tenantID, []string{model.LeadStatusNew, model.LeadStatusInProgress}, since).
			Group("assigned_user_id").
			Scan(&rows)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "CountActiveLeadsByUser", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to count active leads", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	counts := make(map[int64]int64, len(rows))
	for _, rw := range rows {
		counts[rw.AssignedUserID] = rw.Count
	}
	return counts, nil
}

// CountUnassignedLeads counts a tenant's open unassigned leads.
func (r *PostgresRepo) CountUnassignedLeads(ctx context.Context, tenantID int64) (int64, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Lead{}).
			Where("tenant_id = ? AND assigned_user_id IS NULL AND status IN ?",
				tenantID, []string{model.LeadStatusNew, model.LeadStatusInProgress}).
			Count(&count)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "CountUnassignedLeads", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to count unassigned leads", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return 0, err
	}
	return count, nil
}

// CountLeadsInStage counts leads currently in a stage. Guards stage deletion.
func (r *PostgresRepo) CountLeadsInStage(ctx context.Context, tenantID int64, stageKey string) (int64, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Lead{}).
			Where("tenant_id = ? AND stage_key = ?", tenantID, stageKey).
			Count(&count)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "CountLeadsInStage", operation)
	observer.ObserveDbOperationDuration("read", "lead", time.Since(startTime), err)

	if err != nil {
		return 0, err
	}
	return count, nil
}

// SaveLeadEvent appends an audit event.
func (r *PostgresRepo) SaveLeadEvent(ctx context.Context, event model.LeadEvent) error {
	event.CreatedAt = utils.Now()

	operation := func() error {
		if result := r.db.WithContext(ctx).Create(&event); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveLeadEvent Commit", operation)
	observer.ObserveDbOperationDuration("insert", "lead_event", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save lead event",
			zap.Int64("lead_id", event.LeadID),
			zap.String("event_type", event.EventType),
			zap.Error(commitErr))
	}
	return commitErr
}
