package db

import (
	"context"

	"adoptnotify/internal/types"
)

// SuppressionRepository manages operator-set suppressions in
// adoption_suppressions. A row with a NULL notification_type suppresses
// every type for the animal.
type SuppressionRepository struct {
	db DBTX
}

// NewSuppressionRepository creates a new SuppressionRepository.
func NewSuppressionRepository(db DBTX) *SuppressionRepository {
	return &SuppressionRepository{db: db}
}

// IsSuppressed reports whether any suppression covers animalID for
// notificationType.
func (r *SuppressionRepository) IsSuppressed(ctx context.Context, animalID, notificationType string) (bool, error) {
	var suppressed bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM adoption_suppressions
		   WHERE animal_id = $1
		     AND (notification_type IS NULL OR notification_type = $2)
		 )`,
		animalID,
		notificationType,
	).Scan(&suppressed)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check suppression", err)
	}
	return suppressed, nil
}

// Suppress records a suppression for animalID. A nil notificationType
// suppresses every type. Re-suppressing the same scope replaces the reason.
func (r *SuppressionRepository) Suppress(ctx context.Context, animalID string, notificationType *string, reason string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO adoption_suppressions (animal_id, notification_type, reason, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (animal_id, (COALESCE(notification_type, ''))) DO UPDATE
		   SET reason = EXCLUDED.reason`,
		animalID,
		notificationType,
		reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to suppress adoption", err)
	}
	return nil
}

// Unsuppress removes suppressions for animalID. A nil notificationType
// removes every suppression for the animal; otherwise only the row for that
// type is removed. It returns the number of rows removed.
func (r *SuppressionRepository) Unsuppress(ctx context.Context, animalID string, notificationType *string) (int64, error) {
	query := `DELETE FROM adoption_suppressions WHERE animal_id = $1`
	args := []any{animalID}
	if notificationType != nil {
		query += ` AND notification_type = $2`
		args = append(args, *notificationType)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to remove suppression", err)
	}
	return tag.RowsAffected(), nil
}
