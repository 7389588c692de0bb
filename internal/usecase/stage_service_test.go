package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	storagemock "gitlab.com/sayabot/api/crm-lead-router/internal/storage/mock"
)

func TestStageService_Seed_Variants(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	stageRepo.On("SeedStages", ctx, mock.MatchedBy(func(stages []model.TenantStage) bool {
		return len(stages) == 5 && stages[0].StageKey == "unsorted"
	})).Return(nil).Once()
	require.NoError(t, svc.Seed(ctx, 1, SeedDefault))

	stageRepo.On("SeedStages", ctx, mock.MatchedBy(func(stages []model.TenantStage) bool {
		return len(stages) == 8 && stages[0].StageKey == "no_reply"
	})).Return(nil).Once()
	require.NoError(t, svc.Seed(ctx, 1, SeedWhatsApp))

	err := svc.Seed(ctx, 1, "jira")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	stageRepo.AssertExpectations(t)
}

func TestStageService_Delete_GuardsNonEmptyStage(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	leadRepo.On("CountLeadsInStage", ctx, int64(1), "in_work").Return(int64(3), nil)

	err := svc.Delete(ctx, 1, "in_work")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	stageRepo.AssertNotCalled(t, "DeleteStage", mock.Anything, mock.Anything, mock.Anything)
}

func TestStageService_Delete_EmptyStage(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	leadRepo.On("CountLeadsInStage", ctx, int64(1), "lost").Return(int64(0), nil)
	stageRepo.On("DeleteStage", ctx, int64(1), "lost").Return(nil)

	require.NoError(t, svc.Delete(ctx, 1, "lost"))
	stageRepo.AssertExpectations(t)
}

func TestStageService_Move_UnknownStage(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	lead := model.NewLead(1, nil)
	stageRepo.On("FindStageByKey", ctx, int64(1), "nope").Return(nil, apperrors.ErrNotFound)

	err := svc.Move(ctx, 1, lead, "nope", nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	leadRepo.AssertNotCalled(t, "UpdateLeadStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStageService_Move_ClearsAutoMovedFlag(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	lead := model.NewLead(1, func(l *model.Lead) {
		l.StageKey = "unsorted"
		l.StageAutoMoved = true
	})
	actor := int64(42)

	stageRepo.On("FindStageByKey", ctx, int64(1), "in_progress").
		Return(&model.TenantStage{TenantID: 1, StageKey: "in_progress"}, nil)
	leadRepo.On("UpdateLeadStage", ctx, lead.ID, "in_progress", false).Return(nil)
	leadRepo.On("SaveLeadEvent", ctx, mock.AnythingOfType("model.LeadEvent")).Return(nil)

	require.NoError(t, svc.Move(ctx, 1, lead, "in_progress", &actor))
	assert.Equal(t, "in_progress", lead.StageKey)
	assert.False(t, lead.StageAutoMoved)
}

func TestStageService_AutoMove_UnmappedCategoryIsNoop(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	lead := model.NewLead(1, nil)
	stageRepo.On("FindStageByAICategory", ctx, int64(1), "weird_category").
		Return(nil, apperrors.ErrNotFound)

	moved, err := svc.AutoMove(ctx, 1, lead, "weird_category")
	require.NoError(t, err)
	assert.False(t, moved)
	leadRepo.AssertNotCalled(t, "UpdateLeadStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStageService_AutoMove_EmptyCategoryIsNoop(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	moved, err := svc.AutoMove(ctx, 1, model.NewLead(1, nil), "")
	require.NoError(t, err)
	assert.False(t, moved)
	stageRepo.AssertNotCalled(t, "FindStageByAICategory", mock.Anything, mock.Anything, mock.Anything)
}

func TestStageService_AutoMove_MarksTransitionAutomatic(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	lead := model.NewLead(1, func(l *model.Lead) { l.StageKey = "no_reply" })

	stageRepo.On("FindStageByAICategory", ctx, int64(1), "wants_call").
		Return(&model.TenantStage{TenantID: 1, StageKey: "wants_call", AICategory: "wants_call"}, nil)
	leadRepo.On("UpdateLeadStage", ctx, lead.ID, "wants_call", true).Return(nil)
	leadRepo.On("SaveLeadEvent", ctx, mock.AnythingOfType("model.LeadEvent")).Return(nil)

	moved, err := svc.AutoMove(ctx, 1, lead, "wants_call")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "wants_call", lead.StageKey)
	assert.True(t, lead.StageAutoMoved)
}

func TestStageService_Categorize_PersistsAndAutoMoves(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	lead := model.NewLead(1, func(l *model.Lead) { l.StageKey = "no_reply" })
	score := 0.9

	leadRepo.On("SetLeadCategory", ctx, lead.ID, "wants_call", &score).Return(nil)
	stageRepo.On("FindStageByAICategory", ctx, int64(1), "wants_call").
		Return(&model.TenantStage{TenantID: 1, StageKey: "wants_call", AICategory: "wants_call"}, nil)
	leadRepo.On("UpdateLeadStage", ctx, lead.ID, "wants_call", true).Return(nil)
	leadRepo.On("SaveLeadEvent", ctx, mock.AnythingOfType("model.LeadEvent")).Return(nil)

	moved, err := svc.Categorize(ctx, 1, lead, "  wants_call ", &score)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "wants_call", lead.AICategory)
	assert.Equal(t, &score, lead.AIScore)
	assert.Equal(t, "wants_call", lead.StageKey)
	leadRepo.AssertExpectations(t)
}

func TestStageService_Categorize_UnmappedCategoryStillPersists(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	lead := model.NewLead(1, func(l *model.Lead) { l.StageKey = "unsorted" })

	leadRepo.On("SetLeadCategory", ctx, lead.ID, "weird_category", (*float64)(nil)).Return(nil)
	stageRepo.On("FindStageByAICategory", ctx, int64(1), "weird_category").
		Return(nil, apperrors.ErrNotFound)

	moved, err := svc.Categorize(ctx, 1, lead, "weird_category", nil)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, "weird_category", lead.AICategory)
	assert.Equal(t, "unsorted", lead.StageKey)
}

func TestStageService_Categorize_EmptyCategoryRejected(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	_, err := svc.Categorize(ctx, 1, model.NewLead(1, nil), "   ", nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	leadRepo.AssertNotCalled(t, "SetLeadCategory", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStageService_AutoMove_SameStageIsNoop(t *testing.T) {
	ctx := testContext(t)
	stageRepo := new(storagemock.StageRepoMock)
	leadRepo := new(storagemock.LeadRepoMock)
	svc := NewStageService(stageRepo, leadRepo)

	lead := model.NewLead(1, func(l *model.Lead) { l.StageKey = "in_work" })
	stageRepo.On("FindStageByAICategory", ctx, int64(1), "in_work").
		Return(&model.TenantStage{TenantID: 1, StageKey: "in_work"}, nil)

	moved, err := svc.AutoMove(ctx, 1, lead, "in_work")
	require.NoError(t, err)
	assert.False(t, moved)
	leadRepo.AssertNotCalled(t, "UpdateLeadStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
