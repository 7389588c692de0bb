package storage

import (
	"context"
	"time"

	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
)

// TenantRepo defines tenant, staff and channel binding storage operations
type TenantRepo interface {
	SaveTenant(ctx context.Context, t model.Tenant) error
	FindTenantByID(ctx context.Context, id int64) (*model.Tenant, error)
	ListTenants(ctx context.Context, activeOnly bool) ([]model.Tenant, error)

	SaveBinding(ctx context.Context, b model.ChannelBinding) error
	// ResolveBinding resolves a channel identity to its active binding.
	// No binding means no tenant: callers must drop the traffic.
	ResolveBinding(ctx context.Context, kind model.ChannelKind, identity string) (*model.ChannelBinding, error)

	SaveStaff(ctx context.Context, s model.Staff) error
	FindStaffByID(ctx context.Context, id int64) (*model.Staff, error)
	// ListActiveStaff returns active staff ordered by id ascending.
	ListActiveStaff(ctx context.Context, tenantID int64) ([]model.Staff, error)

	Close(ctx context.Context) error
}

// ConversationRepo defines conversation and AI mute state storage operations
type ConversationRepo interface {
	GetOrCreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error)
	AppendMessage(ctx context.Context, msg model.ConversationMessage) (*model.ConversationMessage, error)
	// RecentMessages returns the newest messages in chronological order.
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]model.ConversationMessage, error)
	// TrimMessages deletes everything but the newest keepLast messages.
	TrimMessages(ctx context.Context, conversationID int64, keepLast int) (int64, error)
	UpdateConversationContact(ctx context.Context, conversationID int64, name, phone string) error
	FindConversationByID(ctx context.Context, id int64) (*model.Conversation, error)

	// SetAIEnabled upserts the per-chat mute flag in one atomic statement.
	SetAIEnabled(ctx context.Context, tenantID int64, remoteJID string, enabled bool) error
	// GetAIState returns the flag row; a missing row reads as enabled.
	GetAIState(ctx context.Context, tenantID int64, remoteJID string) (*model.ChatAIState, error)
}

// LeadRepo defines lead storage operations
type LeadRepo interface {
	// CreateLead assigns the next per-group sequence number and inserts
	// the row; concurrent creators in one group never share a number.
	CreateLead(ctx context.Context, lead *model.Lead) error
	FindLeadByID(ctx context.Context, id int64) (*model.Lead, error)
	FindLeadByExternalID(ctx context.Context, tenantID int64, externalID string) (*model.Lead, error)
	// FindRecentLeadByPhone finds the newest lead with this normalized
	// phone created at or after since.
	FindRecentLeadByPhone(ctx context.Context, tenantID int64, phone string, since time.Time) (*model.Lead, error)
	FindOpenLeadByConversation(ctx context.Context, conversationID int64) (*model.Lead, error)
	ListLeads(ctx context.Context, tenantID int64, limit, offset int) ([]model.Lead, int64, error)

	UpdateLeadStatus(ctx context.Context, leadID int64, status string) error
	UpdateLeadStage(ctx context.Context, leadID int64, stageKey string, autoMoved bool) error
	AssignLead(ctx context.Context, leadID int64, userID int64) error
	// UnassignLead clears the assignee and assigned_at; first_assigned_at
	// keeps recording when the lead was first picked up.
	UnassignLead(ctx context.Context, leadID int64) error
	SetLeadPhone(ctx context.Context, leadID int64, phone string) error
	SetLeadHandoff(ctx context.Context, leadID int64, mode string) error
	// SetLeadCategory stores the AI-derived classification.
	SetLeadCategory(ctx context.Context, leadID int64, category string, score *float64) error

	// CountActiveLeadsByUser counts new/in-progress leads per assignee
	// created at or after since.
	CountActiveLeadsByUser(ctx context.Context, tenantID int64, since time.Time) (map[int64]int64, error)
	CountUnassignedLeads(ctx context.Context, tenantID int64) (int64, error)
	CountLeadsInStage(ctx context.Context, tenantID int64, stageKey string) (int64, error)

	SaveLeadEvent(ctx context.Context, event model.LeadEvent) error
}

// RuleRepo defines auto-assignment rule storage operations
type RuleRepo interface {
	SaveRule(ctx context.Context, rule model.AutoAssignRule) error
	DeleteRule(ctx context.Context, tenantID, ruleID int64) error
	// ListActiveRules returns active rules in ascending priority order.
	ListActiveRules(ctx context.Context, tenantID int64) ([]model.AutoAssignRule, error)
	// AdvanceRRCursor atomically increments and returns the round-robin
	// cursor for the rule. Never read-then-write.
	AdvanceRRCursor(ctx context.Context, ruleID int64) (int64, error)
}

// StageRepo defines pipeline stage storage operations
type StageRepo interface {
	SaveStage(ctx context.Context, stage model.TenantStage) error
	// DeleteStage removes a stage; callers guard against deleting a stage
	// that still has leads.
	DeleteStage(ctx context.Context, tenantID int64, stageKey string) error
	ListStages(ctx context.Context, tenantID int64) ([]model.TenantStage, error)
	FirstStage(ctx context.Context, tenantID int64) (*model.TenantStage, error)
	FindStageByKey(ctx context.Context, tenantID int64, stageKey string) (*model.TenantStage, error)
	FindStageByAICategory(ctx context.Context, tenantID int64, category string) (*model.TenantStage, error)
	SeedStages(ctx context.Context, stages []model.TenantStage) error
}

// FollowupRepo defines follow-up and worker heartbeat storage operations
type FollowupRepo interface {
	ScheduleFollowups(ctx context.Context, rows []model.Followup) error
	// DuePendingFollowups returns pending rows whose time has come,
	// oldest first, capped at limit.
	DuePendingFollowups(ctx context.Context, now time.Time, limit int) ([]model.Followup, error)
	MarkFollowupSent(ctx context.Context, id int64, at time.Time) error
	CancelPendingFollowups(ctx context.Context, leadID int64) (int64, error)
	HasPendingFollowups(ctx context.Context, leadID int64) (bool, error)

	// Beat upserts the named worker's heartbeat timestamp.
	Beat(ctx context.Context, workerName string, at time.Time) error
	GetHeartbeat(ctx context.Context, workerName string) (*model.WorkerHeartbeat, error)
}
