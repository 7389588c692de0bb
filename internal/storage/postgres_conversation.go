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

// GetOrCreateConversation finds the conversation for the identity triple
// or inserts it. A concurrent insert losing the unique-index race falls
// back to re-reading the winner, so all callers converge on one row.
func (r *PostgresRepo) GetOrCreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	if conv.TenantID == 0 || conv.ExternalID == "" {
		return nil, fmt.Errorf("%w: conversation identity incomplete", apperrors.ErrBadRequest)
	}

	var found model.Conversation

	find := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND channel_kind = ? AND channel_identity = ? AND external_id = ?",
				conv.TenantID, conv.ChannelKind, conv.ChannelIdentity, conv.ExternalID).
			First(&found)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "GetOrCreateConversation Find", find)
	if err == nil {
		observer.ObserveDbOperationDuration("read", "conversation", time.Since(startTime), nil)
		return &found, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		observer.ObserveDbOperationDuration("read", "conversation", time.Since(startTime), err)
		return nil, err
	}

	conv.CreatedAt = utils.Now()
	conv.UpdatedAt = conv.CreatedAt

	create := func() error {
		result := r.db.WithContext(ctx).Create(&conv)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	createErr := retryableOperation(ctx, commitPolicy, "GetOrCreateConversation Create", create)
	observer.ObserveDbOperationDuration("upsert", "conversation", time.Since(startTime), createErr)

	if createErr != nil {
		if errors.Is(createErr, apperrors.ErrDuplicate) {
			// Lost the insert race, the row exists now.
			refindPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
			if refindErr := retryableOperation(ctx, refindPolicy, "GetOrCreateConversation Refind", find); refindErr != nil {
				return nil, refindErr
			}
			return &found, nil
		}
		logger.FromContext(ctx).Error("Failed to create conversation",
			zap.Int64("tenant_id", conv.TenantID),
			zap.String("external_id", conv.ExternalID),
			zap.Error(createErr))
		return nil, createErr
	}

	return &conv, nil
}

// FindConversationByID fetches one conversation.
func (r *PostgresRepo) FindConversationByID(ctx context.Context, id int64) (*model.Conversation, error) {
	var conv model.Conversation

	operation := func() error {
		result := r.db.WithContext(ctx).First(&conv, id)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindConversationByID", operation)
	observer.ObserveDbOperationDuration("read", "conversation", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to find conversation", zap.Int64("conversation_id", id), zap.Error(err))
		return nil, err
	}
	return &conv, nil
}

// AppendMessage inserts one turn and bumps the conversation's
// last_message_at.
func (r *PostgresRepo) AppendMessage(ctx context.Context, msg model.ConversationMessage) (*model.ConversationMessage, error) {
	if msg.ConversationID == 0 {
		return nil, fmt.Errorf("%w: message without conversation", apperrors.ErrBadRequest)
	}

	msg.CreatedAt = utils.Now()

	operation := func() error {
		if result := r.db.WithContext(ctx).Create(&msg); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		touch := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]interface{}{
				"last_message_at": msg.CreatedAt,
				"updated_at":      msg.CreatedAt,
			})
		if touch.Error != nil {
			return checkConstraintViolation(touch.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AppendMessage Commit", operation)
	observer.ObserveDbOperationDuration("insert", "conversation_message", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to append message",
			zap.Int64("conversation_id", msg.ConversationID),
			zap.Error(commitErr))
		return nil, commitErr
	}

	return &msg, nil
}

// RecentMessages returns the newest limit messages in chronological
// order, ready to feed the AI context window.
func (r *PostgresRepo) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]model.ConversationMessage, error) {
	var messages []model.ConversationMessage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Order("id desc").
			Limit(limit).
			Find(&messages)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "RecentMessages", operation)
	observer.ObserveDbOperationDuration("read", "conversation_message", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to load recent messages",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err))
		return nil, err
	}

	// Newest-first from the query, flip to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// TrimMessages deletes all but the newest keepLast messages of a
// conversation and returns the number of rows removed.
func (r *PostgresRepo) TrimMessages(ctx context.Context, conversationID int64, keepLast int) (int64, error) {
	if keepLast < 0 {
		return 0, fmt.Errorf("%w: negative keepLast", apperrors.ErrBadRequest)
	}

	var deleted int64

	operation := func() error {
		result := r.db.WithContext(ctx).Exec(`
			DELETE FROM conversation_messages
			WHERE conversation_id = ?
			  AND id NOT IN (
				SELECT id FROM conversation_messages
				WHERE conversation_id = ?
				ORDER BY id DESC
				LIMIT ?
			  )`, conversationID, conversationID, keepLast)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		deleted = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "TrimMessages Commit", operation)
	observer.ObserveDbOperationDuration("delete", "conversation_message", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to trim messages",
			zap.Int64("conversation_id", conversationID),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return deleted, nil
}

// UpdateConversationContact sets contact name/phone where provided.
func (r *PostgresRepo) UpdateConversationContact(ctx context.Context, conversationID int64, name, phone string) error {
	updates := map[string]interface{}{"updated_at": utils.Now()}
	if name != "" {
		updates["contact_name"] = name
	}
	if phone != "" {
		updates["contact_phone"] = phone
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation %d", apperrors.ErrNotFound, conversationID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateConversationContact Commit", operation)
	observer.ObserveDbOperationDuration("update", "conversation", time.Since(startTime), commitErr)

	return commitErr
}

// SetAIEnabled upserts the per-chat mute flag in a single atomic
// statement keyed by (tenant_id, remote_jid).
func (r *PostgresRepo) SetAIEnabled(ctx context.Context, tenantID int64, remoteJID string, enabled bool) error {
	if remoteJID == "" {
		return fmt.Errorf("%w: empty remote jid", apperrors.ErrBadRequest)
	}

	state := model.ChatAIState{
		TenantID:  tenantID,
		RemoteJID: remoteJID,
		AIEnabled: enabled,
		UpdatedAt: utils.Now(),
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "remote_jid"}},
			DoUpdates: clause.AssignmentColumns(state.GetUpdatableFields()),
		}).Create(&state)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SetAIEnabled Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "chat_ai_state", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to set AI state",
			zap.Int64("tenant_id", tenantID),
			zap.String("remote_jid", remoteJID),
			zap.Bool("enabled", enabled),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// GetAIState fetches the mute flag row. ErrNotFound means no row, which
// callers read as enabled.
func (r *PostgresRepo) GetAIState(ctx context.Context, tenantID int64, remoteJID string) (*model.ChatAIState, error) {
	var state model.ChatAIState

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("tenant_id = ? AND remote_jid = ?", tenantID, remoteJID).
			First(&state)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "GetAIState", operation)
	observer.ObserveDbOperationDuration("read", "chat_ai_state", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("Failed to get AI state",
			zap.Int64("tenant_id", tenantID),
			zap.String("remote_jid", remoteJID),
			zap.Error(err))
		return nil, err
	}
	return &state, nil
}
