package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"adoptnotify/internal/types"
)

// LedgerRepository records notification attempts in
// adoption_outcome_notifications. The unique index on
// (animal_id, applicant_email, notification_type, test_mode) is the
// authority on whether a tuple has been handled.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// HasHandled reports whether any row exists for the tuple, regardless of
// its status. The dispatcher calls it before rendering; Reserve remains the
// authoritative claim.
func (r *LedgerRepository) HasHandled(ctx context.Context, animalID, applicantEmail string, kind types.NotificationKind, testMode bool) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM adoption_outcome_notifications
		   WHERE animal_id = $1 AND applicant_email = $2
		     AND notification_type = $3 AND test_mode = $4
		 )`,
		animalID,
		applicantEmail,
		string(kind),
		testMode,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check notification ledger", err)
	}
	return exists, nil
}

// Reserve claims the tuple described by entry by inserting a pending row.
// It returns false without error when the tuple already has a row, in
// which case the caller must not send. On success entry.ID, entry.Status
// and entry.CreatedAt are populated.
func (r *LedgerRepository) Reserve(ctx context.Context, entry *types.LedgerEntry) (bool, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO adoption_outcome_notifications
		 (animal_id, applicant_email, notification_type, status, test_mode,
		  original_recipient, created_at)
		 VALUES ($1, $2, $3, 'pending', $4, $5, NOW())
		 ON CONFLICT (animal_id, applicant_email, notification_type, test_mode) DO NOTHING
		 RETURNING id, created_at`,
		entry.AnimalID,
		entry.ApplicantEmail,
		string(entry.Kind),
		entry.TestMode,
		nilIfEmpty(entry.OriginalRecipient),
	).Scan(&entry.ID, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve notification", err)
	}
	entry.Status = types.StatusPending
	return true, nil
}

// Complete moves a pending row to its final status. The transition happens
// at most once; completing a row that is no longer pending is an error.
func (r *LedgerRepository) Complete(ctx context.Context, id int64, status types.DeliveryStatus, providerMessageID string, sendErr error) error {
	var errMsg *string
	if sendErr != nil {
		s := sendErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE adoption_outcome_notifications
		 SET status = $2, sendgrid_message_id = $3, error = $4, sent_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
		string(status),
		nilIfEmpty(providerMessageID),
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete notification", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLedgerEntry, "pending notification not found", nil)
	}
	return nil
}

// RecordDeliveryEvent annotates the row sent with providerMessageID with a
// provider delivery event such as "bounce". Provider event ids carry a
// ".filter..." suffix which is stripped before matching. It returns the
// number of rows annotated.
func (r *LedgerRepository) RecordDeliveryEvent(ctx context.Context, providerMessageID, event string) (int64, error) {
	if i := strings.IndexByte(providerMessageID, '.'); i > 0 {
		providerMessageID = providerMessageID[:i]
	}
	if providerMessageID == "" {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE adoption_outcome_notifications
		 SET delivery_event = $2
		 WHERE sendgrid_message_id = $1`,
		providerMessageID,
		event,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery event", err)
	}
	return tag.RowsAffected(), nil
}

// ActivitySummary aggregates rows created since the given time per kind.
func (r *LedgerRepository) ActivitySummary(ctx context.Context, since time.Time) ([]types.ActivitySummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT notification_type,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'sent'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE test_mode)
		 FROM adoption_outcome_notifications
		 WHERE created_at >= $1
		 GROUP BY notification_type
		 ORDER BY notification_type`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query activity summary", err)
	}
	defer rows.Close()

	out := make([]types.ActivitySummary, 0)
	for rows.Next() {
		var s types.ActivitySummary
		if err := rows.Scan(&s.NotificationType, &s.TotalSent, &s.Successful, &s.Failed, &s.Pending, &s.TestModeCount); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan activity summary", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate activity summary", err)
	}
	return out, nil
}

// Stats counts rows per (kind, status) created since the given time.
func (r *LedgerRepository) Stats(ctx context.Context, since time.Time) ([]types.NotificationStat, error) {
	rows, err := r.db.Query(ctx,
		`SELECT notification_type, status, COUNT(*)
		 FROM adoption_outcome_notifications
		 WHERE created_at >= $1
		 GROUP BY notification_type, status
		 ORDER BY notification_type, status`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query notification stats", err)
	}
	defer rows.Close()

	out := make([]types.NotificationStat, 0)
	for rows.Next() {
		var s types.NotificationStat
		if err := rows.Scan(&s.NotificationType, &s.Status, &s.Count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification stat", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate notification stats", err)
	}
	return out, nil
}
