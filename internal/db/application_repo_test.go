package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adoptnotify/internal/types"
)

func TestApplicationRepository_FetchEligibleApplicants(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "superseded_at IS NULL", "created_at <= $2")
	}), []any{"A1", notBefore}).Return(newMockRows([][]any{{"W@x.com"}, {"l@y.com"}}), nil)

	emails, err := repo.FetchEligibleApplicants(context.Background(), "A1", notBefore)
	require.NoError(t, err)
	assert.Equal(t, []string{"W@x.com", "l@y.com"}, emails)
}

func TestApplicationRepository_FetchEligibleApplicants_None(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	emails, err := repo.FetchEligibleApplicants(context.Background(), "A1", time.Now())
	require.NoError(t, err)
	assert.NotNil(t, emails)
	assert.Empty(t, emails)
}

func TestApplicationRepository_FetchEligibleApplicants_IterError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	rows := newMockRows(nil)
	rows.errVal = errors.New("stream reset")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.FetchEligibleApplicants(context.Background(), "A1", time.Now())
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestApplicationRepository_CountActive(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"A1"}).
		Return(&mockRow{values: []any{4}})

	n, err := repo.CountActive(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestApplicationRepository_FormStats(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{"dog-adoption", 7}, {"", 1}}), nil)

	stats, err := repo.FormStats(context.Background(), time.Now().Add(-14*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, types.FormStat{FormID: "dog-adoption", Count: 7}, stats[0])
}
