package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"adoptnotify/internal/types"
)

const configColumns = `notification_type, display_name, enabled, test_mode, delay_hours,
	template_success_id, template_failure_id, asm_trigger_field, asm_api_method, updated_at`

// NotificationConfigRepository provides access to notification_configs.
type NotificationConfigRepository struct {
	db DBTX
}

// NewNotificationConfigRepository creates a new NotificationConfigRepository.
func NewNotificationConfigRepository(db DBTX) *NotificationConfigRepository {
	return &NotificationConfigRepository{db: db}
}

// ListEnabled returns the configs the scheduler should process.
func (r *NotificationConfigRepository) ListEnabled(ctx context.Context) ([]types.NotificationConfig, error) {
	return r.list(ctx, `SELECT `+configColumns+` FROM notification_configs
		WHERE enabled = TRUE ORDER BY notification_type`)
}

// List returns every config.
func (r *NotificationConfigRepository) List(ctx context.Context) ([]types.NotificationConfig, error) {
	return r.list(ctx, `SELECT `+configColumns+` FROM notification_configs ORDER BY notification_type`)
}

// Get returns the config for notificationType.
func (r *NotificationConfigRepository) Get(ctx context.Context, notificationType string) (*types.NotificationConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+configColumns+` FROM notification_configs WHERE notification_type = $1`,
		notificationType,
	)
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotificationType,
			fmt.Sprintf("notification type %q not found", notificationType), nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification config", err)
	}
	return cfg, nil
}

// Update applies the non-nil fields of upd and returns the names of the
// columns written.
func (r *NotificationConfigRepository) Update(ctx context.Context, notificationType string, upd types.ConfigUpdate) ([]string, error) {
	if upd.Empty() {
		return nil, types.NewAppError(types.ErrCodeValidationNoUpdateFields, "no valid fields to update", nil)
	}

	var (
		sets   []string
		fields []string
		args   = []any{notificationType}
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		fields = append(fields, col)
	}
	if upd.Enabled != nil {
		add("enabled", *upd.Enabled)
	}
	if upd.TestMode != nil {
		add("test_mode", *upd.TestMode)
	}
	if upd.DelayHours != nil {
		add("delay_hours", *upd.DelayHours)
	}
	if upd.TemplateSuccessID != nil {
		add("template_success_id", nilIfEmpty(*upd.TemplateSuccessID))
	}
	if upd.TemplateFailureID != nil {
		add("template_failure_id", nilIfEmpty(*upd.TemplateFailureID))
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE notification_configs SET `+strings.Join(sets, ", ")+`, updated_at = NOW()
		 WHERE notification_type = $1`,
		args...,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update notification config", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotificationType,
			fmt.Sprintf("notification type %q not found", notificationType), nil)
	}
	return fields, nil
}

func (r *NotificationConfigRepository) list(ctx context.Context, query string) ([]types.NotificationConfig, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notification configs", err)
	}
	defer rows.Close()

	configs := make([]types.NotificationConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification config", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate notification configs", err)
	}
	return configs, nil
}

func scanConfig(row pgx.Row) (*types.NotificationConfig, error) {
	var (
		cfg                        types.NotificationConfig
		successID, failureID, trig *string
	)
	if err := row.Scan(
		&cfg.NotificationType, &cfg.DisplayName, &cfg.Enabled, &cfg.TestMode, &cfg.DelayHours,
		&successID, &failureID, &trig, &cfg.ASMAPIMethod, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cfg.TemplateSuccessID = derefString(successID)
	cfg.TemplateFailureID = derefString(failureID)
	cfg.ASMTriggerField = derefString(trig)
	return &cfg, nil
}
