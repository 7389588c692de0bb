package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
)

func testConversation() model.Conversation {
	return model.Conversation{
		TenantID:        testTenantID,
		ChannelKind:     model.ChannelWhatsAppGate,
		ChannelIdentity: "device-1",
		ExternalID:      "77001234567@s.whatsapp.net",
	}
}

func TestGetOrCreateConversation_ReturnsExisting(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "external_id"}).
			AddRow(11, testTenantID, "77001234567@s.whatsapp.net"))

	conv, err := repo.GetOrCreateConversation(ctx, testConversation())

	require.NoError(t, err)
	assert.Equal(t, int64(11), conv.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateConversation_CreatesWhenMissing(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	conv, err := repo.GetOrCreateConversation(ctx, testConversation())

	require.NoError(t, err)
	assert.Equal(t, int64(12), conv.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateConversation_LosesInsertRace(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	// Another worker inserted the same identity between our find and create.
	mock.ExpectQuery(`SELECT \* FROM "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO "conversations"`).
		WillReturnError(pgError("23505"))
	mock.ExpectQuery(`SELECT \* FROM "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id"}).AddRow(13, testTenantID))

	conv, err := repo.GetOrCreateConversation(ctx, testConversation())

	require.NoError(t, err)
	assert.Equal(t, int64(13), conv.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateConversation_RejectsIncompleteIdentity(t *testing.T) {
	repo, mock := newTestRepo(t)

	_, err := repo.GetOrCreateConversation(context.Background(), model.Conversation{TenantID: testTenantID})

	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage_TouchesConversation(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO "conversation_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))
	mock.ExpectExec(`UPDATE "conversations"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := repo.AppendMessage(ctx, model.ConversationMessage{
		ConversationID: 11,
		Role:           model.RoleUser,
		Content:        "hello",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(200), msg.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentMessages_ChronologicalOrder(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	// Query returns newest first; caller gets chronological order.
	mock.ExpectQuery(`SELECT \* FROM "conversation_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content"}).
			AddRow(3, 11, model.RoleAssistant, "third").
			AddRow(2, 11, model.RoleUser, "second").
			AddRow(1, 11, model.RoleUser, "first"))

	messages, err := repo.RecentMessages(ctx, 11, 20)

	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrimMessages_ReturnsDeletedCount(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM conversation_messages`).
		WillReturnResult(sqlmock.NewResult(0, 30))

	deleted, err := repo.TrimMessages(ctx, 11, 50)

	require.NoError(t, err)
	assert.Equal(t, int64(30), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAIEnabled_UpsertsState(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO "chat_ai_states"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := repo.SetAIEnabled(ctx, testTenantID, "77001234567@s.whatsapp.net", false)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAIEnabled_RejectsEmptyJID(t *testing.T) {
	repo, mock := newTestRepo(t)

	err := repo.SetAIEnabled(context.Background(), testTenantID, "", false)

	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAIState_MissingRowIsNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "chat_ai_states"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	state, err := repo.GetAIState(ctx, testTenantID, "77001234567@s.whatsapp.net")

	assert.Nil(t, state)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
