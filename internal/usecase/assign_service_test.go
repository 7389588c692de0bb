package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	storagemock "gitlab.com/sayabot/api/crm-lead-router/internal/storage/mock"
)

func newAssignMocks() (*storagemock.RuleRepoMock, *storagemock.LeadRepoMock, *storagemock.TenantRepoMock, *AssignService) {
	ruleRepo := new(storagemock.RuleRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	tenantRepo := new(storagemock.TenantRepoMock)
	return ruleRepo, leadRepo, tenantRepo, NewAssignService(ruleRepo, leadRepo, tenantRepo)
}

func activeStaff(tenantID int64, ids ...int64) []model.Staff {
	staff := make([]model.Staff, 0, len(ids))
	for _, id := range ids {
		staff = append(staff, model.Staff{ID: id, TenantID: tenantID, IsActive: true})
	}
	return staff
}

func TestAssignService_AutoAssign_SkipsAssignedLead(t *testing.T) {
	ctx := testContext(t)
	ruleRepo, _, _, svc := newAssignMocks()

	tenant := model.NewTenant(nil)
	userID := int64(3)
	lead := model.NewLead(tenant.ID, func(l *model.Lead) { l.AssignedUserID = &userID })

	res, err := svc.AutoAssign(ctx, tenant, lead, "")
	require.NoError(t, err)
	assert.False(t, res.Assigned)
	ruleRepo.AssertNotCalled(t, "ListActiveRules", mock.Anything, mock.Anything)
}

func TestAssignService_AutoAssign_RoundRobinRotates(t *testing.T) {
	ctx := testContext(t)
	ruleRepo, leadRepo, tenantRepo, svc := newAssignMocks()

	tenant := model.NewTenant(func(tn *model.Tenant) { tn.Timezone = "UTC" })
	rule := model.NewAutoAssignRule(tenant.ID, model.StrategyRoundRobin, nil)
	managers := activeStaff(tenant.ID, 11, 12, 13)

	ruleRepo.On("ListActiveRules", ctx, tenant.ID).Return([]model.AutoAssignRule{*rule}, nil)
	tenantRepo.On("ListActiveStaff", ctx, tenant.ID).Return(managers, nil)
	leadRepo.On("AssignLead", ctx, mock.AnythingOfType("int64"), mock.AnythingOfType("int64")).Return(nil)
	leadRepo.On("SaveLeadEvent", ctx, mock.AnythingOfType("model.LeadEvent")).Return(nil)

	// Post-increment cursor values 1,2,3,4 map onto managers 11,12,13,11.
	cursors := []int64{1, 2, 3, 4}
	want := []int64{11, 12, 13, 11}
	for i, cursor := range cursors {
		ruleRepo.On("AdvanceRRCursor", ctx, rule.ID).Return(cursor, nil).Once()
		lead := model.NewLead(tenant.ID, func(l *model.Lead) { l.AssignedUserID = nil })

		res, err := svc.AutoAssign(ctx, tenant, lead, "")
		require.NoError(t, err)
		assert.True(t, res.Assigned)
		assert.Equal(t, want[i], res.UserID, "rotation step %d", i)
		assert.Equal(t, model.StrategyRoundRobin, res.Strategy)
		require.NotNil(t, lead.AssignedUserID)
		assert.Equal(t, want[i], *lead.AssignedUserID)
		assert.NotNil(t, lead.AssignedAt)
		assert.NotNil(t, lead.FirstAssignedAt)
	}
}

func TestAssignService_AutoAssign_LeastLoadedFirstMinimumWins(t *testing.T) {
	ctx := testContext(t)
	ruleRepo, leadRepo, tenantRepo, svc := newAssignMocks()

	tenant := model.NewTenant(func(tn *model.Tenant) { tn.Timezone = "UTC" })
	rule := model.NewAutoAssignRule(tenant.ID, model.StrategyLeastLoaded, nil)
	lead := model.NewLead(tenant.ID, func(l *model.Lead) { l.AssignedUserID = nil })

	ruleRepo.On("ListActiveRules", ctx, tenant.ID).Return([]model.AutoAssignRule{*rule}, nil)
	tenantRepo.On("ListActiveStaff", ctx, tenant.ID).Return(activeStaff(tenant.ID, 11, 12, 13), nil)
	// 12 and 13 tie on the minimum; the lower id wins.
	leadRepo.On("CountActiveLeadsByUser", ctx, tenant.ID, mock.AnythingOfType("time.Time")).
		Return(map[int64]int64{11: 5, 12: 2, 13: 2}, nil)
	leadRepo.On("AssignLead", ctx, lead.ID, int64(12)).Return(nil)
	leadRepo.On("SaveLeadEvent", ctx, mock.AnythingOfType("model.LeadEvent")).Return(nil)

	res, err := svc.AutoAssign(ctx, tenant, lead, "")
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	assert.Equal(t, int64(12), res.UserID)
	leadRepo.AssertExpectations(t)
}

func TestAssignService_AutoAssign_FixedUserMustBeActiveMember(t *testing.T) {
	ctx := testContext(t)
	ruleRepo, leadRepo, tenantRepo, svc := newAssignMocks()

	tenant := model.NewTenant(func(tn *model.Tenant) { tn.Timezone = "UTC" })
	gone := int64(99)
	fixedRule := model.NewAutoAssignRule(tenant.ID, model.StrategyFixedUser, func(r *model.AutoAssignRule) {
		r.Priority = 1
		r.FixedUserID = &gone
	})
	fallback := model.NewAutoAssignRule(tenant.ID, model.StrategyRoundRobin, func(r *model.AutoAssignRule) {
		r.Priority = 2
	})
	lead := model.NewLead(tenant.ID, func(l *model.Lead) { l.AssignedUserID = nil })

	ruleRepo.On("ListActiveRules", ctx, tenant.ID).
		Return([]model.AutoAssignRule{*fixedRule, *fallback}, nil)
	tenantRepo.On("ListActiveStaff", ctx, tenant.ID).Return(activeStaff(tenant.ID, 11), nil)
	ruleRepo.On("AdvanceRRCursor", ctx, fallback.ID).Return(int64(1), nil)
	leadRepo.On("AssignLead", ctx, lead.ID, int64(11)).Return(nil)
	leadRepo.On("SaveLeadEvent", ctx, mock.AnythingOfType("model.LeadEvent")).Return(nil)

	res, err := svc.AutoAssign(ctx, tenant, lead, "")
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	// The fixed user is not an active member, so the next rule fired.
	assert.Equal(t, fallback.ID, res.RuleID)
	assert.Equal(t, int64(11), res.UserID)
}

func TestAssignService_AutoAssign_NoActiveStaff(t *testing.T) {
	ctx := testContext(t)
	ruleRepo, _, tenantRepo, svc := newAssignMocks()

	tenant := model.NewTenant(nil)
	lead := model.NewLead(tenant.ID, func(l *model.Lead) { l.AssignedUserID = nil })

	ruleRepo.On("ListActiveRules", ctx, tenant.ID).
		Return([]model.AutoAssignRule{*model.NewAutoAssignRule(tenant.ID, model.StrategyRoundRobin, nil)}, nil)
	tenantRepo.On("ListActiveStaff", ctx, tenant.ID).Return([]model.Staff{}, nil)

	res, err := svc.AutoAssign(ctx, tenant, lead, "")
	require.NoError(t, err)
	assert.False(t, res.Assigned)
}

func TestRuleMatchesLead_Predicates(t *testing.T) {
	lead := &model.Lead{
		City:       "Алматы",
		Language:   "ru",
		ObjectType: "квартира",
		Summary:    "Нужен шкаф на заказ",
	}

	testCases := []struct {
		name  string
		rule  model.AutoAssignRule
		first string
		want  bool
	}{
		{"empty rule matches everything", model.AutoAssignRule{}, "", true},
		{"city case-insensitive", model.AutoAssignRule{MatchCity: "алматы"}, "", true},
		{"city mismatch", model.AutoAssignRule{MatchCity: "Астана"}, "", false},
		{"language exact", model.AutoAssignRule{MatchLanguage: "RU"}, "", true},
		{"object type substring", model.AutoAssignRule{MatchObjectType: "кварт"}, "", true},
		{"object type mismatch", model.AutoAssignRule{MatchObjectType: "дом"}, "", false},
		{"contains over summary", model.AutoAssignRule{MatchContains: "шкаф"}, "", true},
		{"contains over first message", model.AutoAssignRule{MatchContains: "кухня"}, "хочу кухню... Кухня угловая", true},
		{"contains misses both", model.AutoAssignRule{MatchContains: "балкон"}, "хочу кухню", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ruleMatchesLead(&tc.rule, lead, tc.first))
		})
	}
}

func TestRuleMatchesTime_HourWindowAndWeekdays(t *testing.T) {
	from, to := 9, 18
	rule := &model.AutoAssignRule{TimeFrom: &from, TimeTo: &to, DaysOfWeek: "1,2,3,4,5"}

	// 2026-08-19 is a Wednesday.
	within := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	assert.True(t, ruleMatchesTime(rule, within, "UTC"))

	early := time.Date(2026, 8, 19, 8, 59, 0, 0, time.UTC)
	assert.False(t, ruleMatchesTime(rule, early, "UTC"))

	late := time.Date(2026, 8, 19, 19, 0, 0, 0, time.UTC)
	assert.False(t, ruleMatchesTime(rule, late, "UTC"))

	// 2026-08-23 is a Sunday, ISO weekday 7.
	sunday := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	assert.False(t, ruleMatchesTime(rule, sunday, "UTC"))

	// An unknown timezone falls back to UTC instead of failing closed.
	assert.True(t, ruleMatchesTime(rule, within, "Not/AZone"))
}

func TestAssignService_BulkAssign_ValidatesUser(t *testing.T) {
	ctx := testContext(t)
	_, _, tenantRepo, svc := newAssignMocks()

	tenantRepo.On("FindStaffByID", ctx, int64(99)).Return(nil, apperrors.ErrNotFound)

	_, err := svc.BulkAssign(ctx, 1, []int64{10, 11}, staffID(99))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAssignService_BulkAssign_RejectsForeignOrInactiveUser(t *testing.T) {
	ctx := testContext(t)
	_, _, tenantRepo, svc := newAssignMocks()

	tenantRepo.On("FindStaffByID", ctx, int64(5)).
		Return(&model.Staff{ID: 5, TenantID: 2, IsActive: true}, nil)

	_, err := svc.BulkAssign(ctx, 1, []int64{10}, staffID(5))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAssignService_BulkAssign_PerItemOutcomes(t *testing.T) {
	ctx := testContext(t)
	_, leadRepo, tenantRepo, svc := newAssignMocks()

	tenantID := int64(1)
	tenantRepo.On("FindStaffByID", ctx, int64(5)).
		Return(&model.Staff{ID: 5, TenantID: tenantID, IsActive: true}, nil)

	okLead := model.NewLead(tenantID, func(l *model.Lead) { l.ID = 10 })
	foreign := model.NewLead(2, func(l *model.Lead) { l.ID = 11 })

	leadRepo.On("FindLeadByID", ctx, int64(10)).Return(okLead, nil)
	leadRepo.On("FindLeadByID", ctx, int64(11)).Return(foreign, nil)
	leadRepo.On("FindLeadByID", ctx, int64(12)).Return(nil, apperrors.ErrNotFound)
	leadRepo.On("AssignLead", ctx, int64(10), int64(5)).Return(nil)

	outcomes, err := svc.BulkAssign(ctx, tenantID, []int64{10, 11, 12}, staffID(5))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.True(t, outcomes[0].OK)
	assert.False(t, outcomes[1].OK)
	assert.Equal(t, "wrong_tenant", outcomes[1].Reason)
	assert.False(t, outcomes[2].OK)
	assert.Equal(t, "lead_not_found", outcomes[2].Reason)
}

func TestAssignService_BulkAssign_NilUserUnassigns(t *testing.T) {
	ctx := testContext(t)
	_, leadRepo, tenantRepo, svc := newAssignMocks()

	tenantID := int64(1)
	assignee := int64(5)
	assigned := model.NewLead(tenantID, func(l *model.Lead) {
		l.ID = 10
		l.AssignedUserID = &assignee
	})

	leadRepo.On("FindLeadByID", ctx, int64(10)).Return(assigned, nil)
	leadRepo.On("UnassignLead", ctx, int64(10)).Return(nil)

	outcomes, err := svc.BulkAssign(ctx, tenantID, []int64{10}, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)

	// No assignee means no staff validation and no assignment.
	tenantRepo.AssertNotCalled(t, "FindStaffByID", mock.Anything, mock.Anything)
	leadRepo.AssertNotCalled(t, "AssignLead", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssignService_AutoAssign_LowerPriorityRuleWins(t *testing.T) {
	ctx := testContext(t)
	ruleRepo, leadRepo, tenantRepo, svc := newAssignMocks()

	tenant := model.NewTenant(func(tn *model.Tenant) { tn.Timezone = "UTC" })
	firstUser := int64(11)
	secondUser := int64(12)

	// Both rules match every lead; the repo returns them ordered by
	// ascending priority and the first one must win.
	first := model.NewAutoAssignRule(tenant.ID, model.StrategyFixedUser, func(r *model.AutoAssignRule) {
		r.ID = 1
		r.Priority = 10
		r.FixedUserID = &firstUser
	})
	second := model.NewAutoAssignRule(tenant.ID, model.StrategyFixedUser, func(r *model.AutoAssignRule) {
		r.ID = 2
		r.Priority = 20
		r.FixedUserID = &secondUser
	})

	ruleRepo.On("ListActiveRules", ctx, tenant.ID).
		Return([]model.AutoAssignRule{*first, *second}, nil)
	tenantRepo.On("ListActiveStaff", ctx, tenant.ID).
		Return(activeStaff(tenant.ID, firstUser, secondUser), nil)
	leadRepo.On("AssignLead", ctx, mock.AnythingOfType("int64"), firstUser).Return(nil)
	leadRepo.On("SaveLeadEvent", ctx, mock.AnythingOfType("model.LeadEvent")).Return(nil)

	lead := model.NewLead(tenant.ID, func(l *model.Lead) { l.AssignedUserID = nil })
	res, err := svc.AutoAssign(ctx, tenant, lead, "")
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	assert.Equal(t, firstUser, res.UserID)
	assert.Equal(t, first.ID, res.RuleID)
	leadRepo.AssertNotCalled(t, "AssignLead", mock.Anything, mock.Anything, secondUser)
}

func staffID(id int64) *int64 { return &id }
