package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
)

// --- TenantRepo Mock ---

// TenantRepoMock mocks the TenantRepo interface
type TenantRepoMock struct {
	mock.Mock
}

func (m *TenantRepoMock) SaveTenant(ctx context.Context, t model.Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *TenantRepoMock) FindTenantByID(ctx context.Context, id int64) (*model.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tenant), args.Error(1)
}

func (m *TenantRepoMock) ListTenants(ctx context.Context, activeOnly bool) ([]model.Tenant, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Tenant), args.Error(1)
}

func (m *TenantRepoMock) SaveBinding(ctx context.Context, b model.ChannelBinding) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *TenantRepoMock) ResolveBinding(ctx context.Context, kind model.ChannelKind, identity string) (*model.ChannelBinding, error) {
	args := m.Called(ctx, kind, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChannelBinding), args.Error(1)
}

func (m *TenantRepoMock) SaveStaff(ctx context.Context, s model.Staff) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *TenantRepoMock) FindStaffByID(ctx context.Context, id int64) (*model.Staff, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Staff), args.Error(1)
}

func (m *TenantRepoMock) ListActiveStaff(ctx context.Context, tenantID int64) ([]model.Staff, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Staff), args.Error(1)
}

func (m *TenantRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

func (m *ConversationRepoMock) GetOrCreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	args := m.Called(ctx, conv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) AppendMessage(ctx context.Context, msg model.ConversationMessage) (*model.ConversationMessage, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationMessage), args.Error(1)
}

func (m *ConversationRepoMock) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]model.ConversationMessage, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ConversationMessage), args.Error(1)
}

func (m *ConversationRepoMock) TrimMessages(ctx context.Context, conversationID int64, keepLast int) (int64, error) {
	args := m.Called(ctx, conversationID, keepLast)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ConversationRepoMock) UpdateConversationContact(ctx context.Context, conversationID int64, name, phone string) error {
	args := m.Called(ctx, conversationID, name, phone)
	return args.Error(0)
}

func (m *ConversationRepoMock) FindConversationByID(ctx context.Context, id int64) (*model.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) SetAIEnabled(ctx context.Context, tenantID int64, remoteJID string, enabled bool) error {
	args := m.Called(ctx, tenantID, remoteJID, enabled)
	return args.Error(0)
}

func (m *ConversationRepoMock) GetAIState(ctx context.Context, tenantID int64, remoteJID string) (*model.ChatAIState, error) {
	args := m.Called(ctx, tenantID, remoteJID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatAIState), args.Error(1)
}

// --- LeadRepo Mock ---

// LeadRepoMock mocks the LeadRepo interface
type LeadRepoMock struct {
	mock.Mock
}

func (m *LeadRepoMock) CreateLead(ctx context.Context, lead *model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *LeadRepoMock) FindLeadByID(ctx context.Context, id int64) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) FindLeadByExternalID(ctx context.Context, tenantID int64, externalID string) (*model.Lead, error) {
	args := m.Called(ctx, tenantID, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) FindRecentLeadByPhone(ctx context.Context, tenantID int64, phone string, since time.Time) (*model.Lead, error) {
	args := m.Called(ctx, tenantID, phone, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) FindOpenLeadByConversation(ctx context.Context, conversationID int64) (*model.Lead, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) ListLeads(ctx context.Context, tenantID int64, limit, offset int) ([]model.Lead, int64, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]model.Lead), args.Get(1).(int64), args.Error(2)
}

func (m *LeadRepoMock) UpdateLeadStatus(ctx context.Context, leadID int64, status string) error {
	args := m.Called(ctx, leadID, status)
	return args.Error(0)
}

func (m *LeadRepoMock) UpdateLeadStage(ctx context.Context, leadID int64, stageKey string, autoMoved bool) error {
	args := m.Called(ctx, leadID, stageKey, autoMoved)
	return args.Error(0)
}

func (m *LeadRepoMock) AssignLead(ctx context.Context, leadID int64, userID int64) error {
	args := m.Called(ctx, leadID, userID)
	return args.Error(0)
}

func (m *LeadRepoMock) UnassignLead(ctx context.Context, leadID int64) error {
	args := m.Called(ctx, leadID)
	return args.Error(0)
}

func (m *LeadRepoMock) SetLeadCategory(ctx context.Context, leadID int64, category string, score *float64) error {
	args := m.Called(ctx, leadID, category, score)
	return args.Error(0)
}

func (m *LeadRepoMock) SetLeadPhone(ctx context.Context, leadID int64, phone string) error {
	args := m.Called(ctx, leadID, phone)
	return args.Error(0)
}

func (m *LeadRepoMock) SetLeadHandoff(ctx context.Context, leadID int64, mode string) error {
	args := m.Called(ctx, leadID, mode)
	return args.Error(0)
}

func (m *LeadRepoMock) CountActiveLeadsByUser(ctx context.Context, tenantID int64, since time.Time) (map[int64]int64, error) {
	args := m.Called(ctx, tenantID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]int64), args.Error(1)
}

func (m *LeadRepoMock) CountUnassignedLeads(ctx context.Context, tenantID int64) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *LeadRepoMock) CountLeadsInStage(ctx context.Context, tenantID int64, stageKey string) (int64, error) {
	args := m.Called(ctx, tenantID, stageKey)
	return args.Get(0).(int64), args.Error(1)
}

func (m *LeadRepoMock) SaveLeadEvent(ctx context.Context, event model.LeadEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// --- RuleRepo Mock ---

// RuleRepoMock mocks the RuleRepo interface
type RuleRepoMock struct {
	mock.Mock
}

func (m *RuleRepoMock) SaveRule(ctx context.Context, rule model.AutoAssignRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *RuleRepoMock) DeleteRule(ctx context.Context, tenantID, ruleID int64) error {
	args := m.Called(ctx, tenantID, ruleID)
	return args.Error(0)
}

func (m *RuleRepoMock) ListActiveRules(ctx context.Context, tenantID int64) ([]model.AutoAssignRule, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AutoAssignRule), args.Error(1)
}

func (m *RuleRepoMock) AdvanceRRCursor(ctx context.Context, ruleID int64) (int64, error) {
	args := m.Called(ctx, ruleID)
	return args.Get(0).(int64), args.Error(1)
}

// --- StageRepo Mock ---

// StageRepoMock mocks the StageRepo interface
type StageRepoMock struct {
	mock.Mock
}

func (m *StageRepoMock) SaveStage(ctx context.Context, stage model.TenantStage) error {
	args := m.Called(ctx, stage)
	return args.Error(0)
}

func (m *StageRepoMock) DeleteStage(ctx context.Context, tenantID int64, stageKey string) error {
	args := m.Called(ctx, tenantID, stageKey)
	return args.Error(0)
}

func (m *StageRepoMock) ListStages(ctx context.Context, tenantID int64) ([]model.TenantStage, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TenantStage), args.Error(1)
}

func (m *StageRepoMock) FirstStage(ctx context.Context, tenantID int64) (*model.TenantStage, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TenantStage), args.Error(1)
}

func (m *StageRepoMock) FindStageByKey(ctx context.Context, tenantID int64, stageKey string) (*model.TenantStage, error) {
	args := m.Called(ctx, tenantID, stageKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TenantStage), args.Error(1)
}

func (m *StageRepoMock) FindStageByAICategory(ctx context.Context, tenantID int64, category string) (*model.TenantStage, error) {
	args := m.Called(ctx, tenantID, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TenantStage), args.Error(1)
}

func (m *StageRepoMock) SeedStages(ctx context.Context, stages []model.TenantStage) error {
	args := m.Called(ctx, stages)
	return args.Error(0)
}

// --- FollowupRepo Mock ---

// FollowupRepoMock mocks the FollowupRepo interface
type FollowupRepoMock struct {
	mock.Mock
}

func (m *FollowupRepoMock) ScheduleFollowups(ctx context.Context, rows []model.Followup) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *FollowupRepoMock) DuePendingFollowups(ctx context.Context, now time.Time, limit int) ([]model.Followup, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Followup), args.Error(1)
}

func (m *FollowupRepoMock) MarkFollowupSent(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *FollowupRepoMock) CancelPendingFollowups(ctx context.Context, leadID int64) (int64, error) {
	args := m.Called(ctx, leadID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *FollowupRepoMock) HasPendingFollowups(ctx context.Context, leadID int64) (bool, error) {
	args := m.Called(ctx, leadID)
	return args.Bool(0), args.Error(1)
}

func (m *FollowupRepoMock) Beat(ctx context.Context, workerName string, at time.Time) error {
	args := m.Called(ctx, workerName, at)
	return args.Error(0)
}

func (m *FollowupRepoMock) GetHeartbeat(ctx context.Context, workerName string) (*model.WorkerHeartbeat, error) {
	args := m.Called(ctx, workerName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkerHeartbeat), args.Error(1)
}
