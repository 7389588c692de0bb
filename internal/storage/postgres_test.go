package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// Note on SQL Query Matching in Tests:
// ----------------------------------
// GORM generates SQL queries with additional clauses like ORDER BY and LIMIT
// that can make exact SQL string matching brittle. To handle this, we:
//
// 1. Use a partial SQL match pattern that excludes the variable clauses
// 2. Use sqlmock.QueryMatcherRegexp for flexible regex-based matching
// 3. Use sqlmock.AnyArg() for parameters that may vary in format or content
//
// This approach makes tests more robust against minor GORM query variations.

const (
	testTenantID = int64(42)
	testOwnerID  = int64(7)
)

// Placeholder for AnyTime argument matcher
type AnyTime struct{}

// Match satisfies sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// newTestRepo creates a sqlmock-backed PostgresRepo for testing.
func newTestRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &PostgresRepo{db: gormDB}, mock
}

func pgError(code string) *pgconn.PgError {
	return &pgconn.PgError{Code: code, ConstraintName: "test_constraint"}
}

func TestCheckConstraintViolation(t *testing.T) {
	testCases := []struct {
		name     string
		input    error
		expected error
	}{
		{"nil error", nil, nil},
		{"record not found", gorm.ErrRecordNotFound, apperrors.ErrNotFound},
		{"sql no rows", sql.ErrNoRows, apperrors.ErrNotFound},
		{"unique violation", pgError("23505"), apperrors.ErrDuplicate},
		{"foreign key violation", pgError("23503"), apperrors.ErrBadRequest},
		{"not null violation", pgError("23502"), apperrors.ErrBadRequest},
		{"check violation", pgError("23514"), apperrors.ErrBadRequest},
		{"string truncation", pgError("22001"), apperrors.ErrBadRequest},
		{"invalid text representation", pgError("22P02"), apperrors.ErrBadRequest},
		{"serialization failure", pgError("40001"), apperrors.ErrDatabase},
		{"deadlock", pgError("40P01"), apperrors.ErrDatabase},
		{"insufficient resources", pgError("53300"), apperrors.ErrDatabase},
		{"connection exception", pgError("08006"), apperrors.ErrDatabase},
		{"unknown pg error", pgError("XX000"), apperrors.ErrDatabase},
		{"generic error", errors.New("boom"), apperrors.ErrDatabase},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := checkConstraintViolation(tc.input)
			if tc.expected == nil {
				assert.NoError(t, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tc.expected)
		})
	}
}

func TestIsTransientError(t *testing.T) {
	assert.False(t, isTransientError(nil))
	assert.False(t, isTransientError(errors.New("syntax error")))
	assert.False(t, isTransientError(pgError("23505")))

	assert.True(t, isTransientError(pgError("08006")))
	assert.True(t, isTransientError(pgError("53300")))
	assert.True(t, isTransientError(pgError("40001")))
	assert.True(t, isTransientError(pgError("40P01")))
	assert.True(t, isTransientError(errors.New("dial tcp: connection refused")))
	assert.True(t, isTransientError(errors.New("read tcp: i/o timeout")))
	assert.True(t, isTransientError(fmt.Errorf("write: broken pipe")))
}
