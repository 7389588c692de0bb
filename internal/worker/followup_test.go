package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	storagemock "gitlab.com/sayabot/api/crm-lead-router/internal/storage/mock"
	"gitlab.com/sayabot/api/crm-lead-router/internal/usecase"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

type senderMock struct {
	mock.Mock
}

func (m *senderMock) SendText(ctx context.Context, kind model.ChannelKind, channelIdentity, externalID, text string) error {
	args := m.Called(ctx, kind, channelIdentity, externalID, text)
	return args.Error(0)
}

type workerFixture struct {
	fuRepo     *storagemock.FollowupRepoMock
	leadRepo   *storagemock.LeadRepoMock
	tenantRepo *storagemock.TenantRepoMock
	convRepo   *storagemock.ConversationRepoMock
	sender     *senderMock
	worker     *FollowupWorker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	f := &workerFixture{
		fuRepo:     new(storagemock.FollowupRepoMock),
		leadRepo:   new(storagemock.LeadRepoMock),
		tenantRepo: new(storagemock.TenantRepoMock),
		convRepo:   new(storagemock.ConversationRepoMock),
		sender:     new(senderMock),
	}
	cfg := config.FollowupConfig{
		TickInterval:   time.Minute,
		StaleAfter:     5 * time.Minute,
		DelayMinutes:   []int{5, 30},
		DispatchBudget: 100,
	}
	f.worker = NewFollowupWorker(
		f.fuRepo, f.leadRepo, f.tenantRepo, f.convRepo,
		usecase.NewFollowupService(f.fuRepo, cfg),
		f.sender, cfg, zaptest.NewLogger(t),
	)
	return f
}

func testContext(t *testing.T) context.Context {
	return logger.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func dueRow() model.Followup {
	return model.Followup{
		ID:             900,
		TenantID:       1,
		LeadID:         501,
		ConversationID: 42,
		Step:           1,
		Status:         model.FollowupPending,
		ScheduledAt:    time.Now().Add(-time.Minute),
	}
}

func TestFollowupWorker_Tick_DispatchesDueRow(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := testContext(t)
	row := dueRow()

	f.fuRepo.On("Beat", mock.Anything, FollowupWorkerName, mock.Anything).Return(nil)
	f.fuRepo.On("DuePendingFollowups", mock.Anything, mock.Anything, 100).
		Return([]model.Followup{row}, nil)
	f.leadRepo.On("FindLeadByID", mock.Anything, int64(501)).
		Return(&model.Lead{ID: 501, TenantID: ptrInt64(1), Name: "Айгерим", Status: model.LeadStatusNew, HandoffMode: model.HandoffAI}, nil)
	f.tenantRepo.On("FindTenantByID", mock.Anything, int64(1)).
		Return(&model.Tenant{ID: 1, Language: "ru", IsActive: true}, nil)
	f.convRepo.On("FindConversationByID", mock.Anything, int64(42)).
		Return(&model.Conversation{
			ID:              42,
			ChannelKind:     model.ChannelWhatsAppGate,
			ChannelIdentity: "inst-7",
			ExternalID:      "77015551234@s.whatsapp.net",
		}, nil)
	f.sender.On("SendText", mock.Anything, model.ChannelWhatsAppGate, "inst-7", "77015551234@s.whatsapp.net",
		mock.MatchedBy(func(text string) bool { return text != "" })).Return(nil)
	f.convRepo.On("AppendMessage", mock.Anything, mock.MatchedBy(func(msg model.ConversationMessage) bool {
		return msg.ConversationID == 42 && msg.Role == model.RoleAssistant
	})).Return(&model.ConversationMessage{ID: 1}, nil)
	f.fuRepo.On("MarkFollowupSent", mock.Anything, int64(900), mock.Anything).Return(nil)

	f.worker.tick(ctx)

	f.fuRepo.AssertExpectations(t)
	f.sender.AssertExpectations(t)
	f.convRepo.AssertExpectations(t)
}

func TestFollowupWorker_Tick_SendFailureLeavesRowPending(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := testContext(t)
	row := dueRow()

	f.fuRepo.On("Beat", mock.Anything, FollowupWorkerName, mock.Anything).Return(nil)
	f.fuRepo.On("DuePendingFollowups", mock.Anything, mock.Anything, 100).
		Return([]model.Followup{row}, nil)
	f.leadRepo.On("FindLeadByID", mock.Anything, int64(501)).
		Return(&model.Lead{ID: 501, TenantID: ptrInt64(1), Status: model.LeadStatusNew, HandoffMode: model.HandoffAI}, nil)
	f.tenantRepo.On("FindTenantByID", mock.Anything, int64(1)).
		Return(&model.Tenant{ID: 1, Language: "ru"}, nil)
	f.convRepo.On("FindConversationByID", mock.Anything, int64(42)).
		Return(&model.Conversation{ID: 42, ChannelKind: model.ChannelWeb, ChannelIdentity: "site", ExternalID: "sess-1"}, nil)
	f.sender.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("gateway unreachable"))

	f.worker.tick(ctx)

	// The row must stay pending so the next tick retries it.
	f.fuRepo.AssertNotCalled(t, "MarkFollowupSent", mock.Anything, mock.Anything, mock.Anything)
	f.convRepo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
}

func TestFollowupWorker_Tick_CancelsWhenLeadGone(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := testContext(t)
	row := dueRow()

	f.fuRepo.On("Beat", mock.Anything, FollowupWorkerName, mock.Anything).Return(nil)
	f.fuRepo.On("DuePendingFollowups", mock.Anything, mock.Anything, 100).
		Return([]model.Followup{row}, nil)
	f.leadRepo.On("FindLeadByID", mock.Anything, int64(501)).
		Return(nil, apperrors.ErrNotFound)
	f.fuRepo.On("CancelPendingFollowups", mock.Anything, int64(501)).Return(int64(1), nil)

	f.worker.tick(ctx)

	f.fuRepo.AssertExpectations(t)
	f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFollowupWorker_Tick_CancelsWhenHandedToHuman(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := testContext(t)
	row := dueRow()

	f.fuRepo.On("Beat", mock.Anything, FollowupWorkerName, mock.Anything).Return(nil)
	f.fuRepo.On("DuePendingFollowups", mock.Anything, mock.Anything, 100).
		Return([]model.Followup{row}, nil)
	f.leadRepo.On("FindLeadByID", mock.Anything, int64(501)).
		Return(&model.Lead{ID: 501, TenantID: ptrInt64(1), Status: model.LeadStatusInProgress, HandoffMode: model.HandoffHuman}, nil)
	f.fuRepo.On("CancelPendingFollowups", mock.Anything, int64(501)).Return(int64(2), nil)

	f.worker.tick(ctx)

	f.fuRepo.AssertExpectations(t)
	f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFollowupWorker_Tick_BeatFailureStillDispatches(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := testContext(t)

	f.fuRepo.On("Beat", mock.Anything, FollowupWorkerName, mock.Anything).Return(apperrors.ErrDatabase)
	f.fuRepo.On("DuePendingFollowups", mock.Anything, mock.Anything, 100).
		Return([]model.Followup{}, nil)

	f.worker.tick(ctx)

	f.fuRepo.AssertExpectations(t)
}

func TestFollowupWorker_Run_StopsOnCancel(t *testing.T) {
	f := newWorkerFixture(t)

	f.fuRepo.On("Beat", mock.Anything, FollowupWorkerName, mock.Anything).Return(nil)
	f.fuRepo.On("DuePendingFollowups", mock.Anything, mock.Anything, 100).
		Return([]model.Followup{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
	assert.GreaterOrEqual(t, len(f.fuRepo.Calls), 1)
}

func ptrInt64(v int64) *int64 { return &v }
