package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"adoptnotify/internal/types"
)

// DefaultCursorLookback is how far back the first poll of a notification
// type reaches when no cursor has been recorded.
const DefaultCursorLookback = 24 * time.Hour

// CursorRepository stores the per-type high-water mark of ingested event
// times in notification_poll_state.
type CursorRepository struct {
	db    DBTX
	clock types.Clock
}

// NewCursorRepository creates a new CursorRepository.
func NewCursorRepository(db DBTX) *CursorRepository {
	return &CursorRepository{db: db, clock: types.RealClock{}}
}

// Read returns the stored cursor for notificationType, or now minus
// DefaultCursorLookback when none exists.
func (r *CursorRepository) Read(ctx context.Context, notificationType string) (time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(ctx,
		`SELECT last_seen_ts FROM notification_poll_state WHERE notification_type = $1`,
		notificationType,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.clock.Now().Add(-DefaultCursorLookback), nil
	}
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read poll cursor", err)
	}
	return ts, nil
}

// Advance moves the cursor to ts only when ts is strictly later than the
// stored value. It reports whether the cursor moved. The monotonic guard
// lives in the ON CONFLICT WHERE clause so concurrent writers cannot move
// the cursor backwards.
func (r *CursorRepository) Advance(ctx context.Context, notificationType string, ts time.Time, testMode bool) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO notification_poll_state (notification_type, last_seen_ts, test_mode, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (notification_type) DO UPDATE
		   SET last_seen_ts = EXCLUDED.last_seen_ts,
		       test_mode = EXCLUDED.test_mode,
		       updated_at = NOW()
		   WHERE notification_poll_state.last_seen_ts < EXCLUDED.last_seen_ts`,
		notificationType,
		ts.UTC(),
		testMode,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to advance poll cursor", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns every recorded cursor.
func (r *CursorRepository) List(ctx context.Context) ([]types.PollState, error) {
	rows, err := r.db.Query(ctx,
		`SELECT notification_type, last_seen_ts, test_mode, updated_at
		 FROM notification_poll_state
		 ORDER BY notification_type`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list poll states", err)
	}
	defer rows.Close()

	states := make([]types.PollState, 0)
	for rows.Next() {
		var s types.PollState
		if err := rows.Scan(&s.NotificationType, &s.LastSeenTS, &s.TestMode, &s.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan poll state", err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate poll states", err)
	}
	return states, nil
}
