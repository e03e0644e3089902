package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adoptnotify/internal/types"
)

func configRow(enabled bool) []any {
	return []any{
		"adoption_outcome", "Adoption Outcome Notifications", enabled, false, 12,
		nil, strPtr("d-123"), strPtr("ADDITIONALFLAGS"), "json_recent_adoptions",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNotificationConfigRepository_ListEnabled(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationConfigRepository(db)

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "WHERE enabled = TRUE")
	}), mock.Anything).Return(newMockRows([][]any{configRow(true)}), nil)

	configs, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)

	cfg := configs[0]
	assert.Equal(t, "adoption_outcome", cfg.NotificationType)
	assert.Equal(t, 12, cfg.DelayHours)
	assert.Empty(t, cfg.TemplateSuccessID)
	assert.Equal(t, "d-123", cfg.TemplateFailureID)
	assert.Equal(t, "ADDITIONALFLAGS", cfg.ASMTriggerField)
	assert.Equal(t, "json_recent_adoptions", cfg.ASMAPIMethod)
}

func TestNotificationConfigRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationConfigRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"nope"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(context.Background(), "nope")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundNotificationType))
}

func TestNotificationConfigRepository_Get(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationConfigRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"adoption_outcome"}).
		Return(&mockRow{values: configRow(false)})

	cfg, err := repo.Get(context.Background(), "adoption_outcome")
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
}

func TestNotificationConfigRepository_Update_Partial(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationConfigRepository(db)

	testMode := true
	delay := 0
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "test_mode = $2", "delay_hours = $3", "updated_at = NOW()")
	}), []any{"adoption_outcome", true, 0}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	fields, err := repo.Update(context.Background(), "adoption_outcome", types.ConfigUpdate{
		TestMode:   &testMode,
		DelayHours: &delay,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"test_mode", "delay_hours"}, fields)
	db.AssertExpectations(t)
}

func TestNotificationConfigRepository_Update_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationConfigRepository(db)

	_, err := repo.Update(context.Background(), "adoption_outcome", types.ConfigUpdate{})
	assert.True(t, types.HasCode(err, types.ErrCodeValidationNoUpdateFields))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationConfigRepository_Update_UnknownType(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationConfigRepository(db)

	enabled := false
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	_, err := repo.Update(context.Background(), "nope", types.ConfigUpdate{Enabled: &enabled})
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundNotificationType))
}
