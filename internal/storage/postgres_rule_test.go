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

func TestAdvanceRRCursor_ReturnsNewValue(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE auto_assign_rules`).
		WillReturnRows(sqlmock.NewRows([]string{"rr_cursor"}).AddRow(6))

	cursor, err := repo.AdvanceRRCursor(ctx, 3)

	require.NoError(t, err)
	assert.Equal(t, int64(6), cursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceRRCursor_MissingRule(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE auto_assign_rules`).
		WillReturnRows(sqlmock.NewRows([]string{"rr_cursor"}))

	_, err := repo.AdvanceRRCursor(ctx, 404)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveRules_PriorityOrder(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	// The engine walks rules first-match-wins, so ascending priority
	// order is part of the repository contract.
	mock.ExpectQuery(`SELECT \* FROM "auto_assign_rules" WHERE .* ORDER BY priority asc, id asc`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "priority", "strategy"}).
			AddRow(1, testTenantID, 10, model.StrategyRoundRobin).
			AddRow(2, testTenantID, 20, model.StrategyLeastLoaded))

	rules, err := repo.ListActiveRules(ctx, testTenantID)

	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 10, rules[0].Priority)
	assert.Equal(t, model.StrategyRoundRobin, rules[0].Strategy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRule_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM "auto_assign_rules"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteRule(ctx, testTenantID, 404)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
