package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"adoptnotify/internal/types"
)

// rawCompressThreshold is the payload size above which the upstream record
// is stored zstd-compressed in raw_zstd instead of the raw JSONB column.
const rawCompressThreshold = 8 << 10

var (
	rawEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	rawDecoder, _ = zstd.NewReader(nil)
)

// EventRepository is the append-only store of adoption events, keyed by
// adoption_key.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Ingest inserts e unless a row with the same adoption_key already exists.
// It returns true when a row was written and false for a duplicate. A
// duplicate is never an error and never overwrites the stored row.
func (r *EventRepository) Ingest(ctx context.Context, e *types.AdoptionEvent) (bool, error) {
	raw, rawZstd := splitRaw(e.Raw)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO adoption_events
		 (adoption_key, animal_id, animal_name, species, adoption_date,
		  new_owner_email, raw, raw_zstd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (adoption_key) DO NOTHING`,
		e.AdoptionKey,
		e.AnimalID,
		nilIfEmpty(e.AnimalName),
		nilIfEmpty(e.Species),
		e.AdoptionDate,
		nilIfEmpty(e.NewOwnerEmail),
		raw,
		rawZstd,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert adoption event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListMatured returns events whose adoption_date is at or before cutoff,
// newest first, capped at limit.
func (r *EventRepository) ListMatured(ctx context.Context, cutoff time.Time, limit int) ([]types.AdoptionEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT adoption_key, animal_id, animal_name, species, adoption_date,
		        new_owner_email, raw, raw_zstd, created_at
		 FROM adoption_events
		 WHERE adoption_date <= $1
		 ORDER BY adoption_date DESC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list matured adoption events", err)
	}
	defer rows.Close()

	events := make([]types.AdoptionEvent, 0)
	for rows.Next() {
		var (
			e                         types.AdoptionEvent
			name, species, ownerEmail *string
			raw, rawZstd              []byte
		)
		if err := rows.Scan(
			&e.AdoptionKey, &e.AnimalID, &name, &species, &e.AdoptionDate,
			&ownerEmail, &raw, &rawZstd, &e.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan adoption event", err)
		}
		e.AnimalName = derefString(name)
		e.Species = derefString(species)
		e.NewOwnerEmail = derefString(ownerEmail)
		e.Raw, err = joinRaw(raw, rawZstd)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB,
				fmt.Sprintf("failed to decode raw payload for %s", e.AdoptionKey), err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate adoption events", err)
	}
	return events, nil
}

// ListOverview returns the latest events with applicant, notification and
// suppression information for the admin overview.
func (r *EventRepository) ListOverview(ctx context.Context, limit int) ([]types.AdoptionOverview, error) {
	rows, err := r.db.Query(ctx,
		`SELECT e.animal_id, e.animal_name, e.species, e.adoption_date, e.new_owner_email,
		        (SELECT COUNT(*) FROM applications a
		          WHERE a.animal_id = e.animal_id AND a.superseded_at IS NULL),
		        (SELECT COUNT(*) FROM adoption_outcome_notifications n
		          WHERE n.animal_id = e.animal_id),
		        (SELECT COUNT(*) FROM adoption_outcome_notifications n
		          WHERE n.animal_id = e.animal_id AND n.status = 'failed'),
		        EXISTS (SELECT 1 FROM adoption_suppressions s WHERE s.animal_id = e.animal_id)
		 FROM adoption_events e
		 ORDER BY e.adoption_date DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list adoption overview", err)
	}
	defer rows.Close()

	out := make([]types.AdoptionOverview, 0)
	for rows.Next() {
		var (
			o                         types.AdoptionOverview
			name, species, ownerEmail *string
		)
		if err := rows.Scan(
			&o.AnimalID, &name, &species, &o.AdoptionDate, &ownerEmail,
			&o.ApplicantCount, &o.NotificationsSent, &o.NotificationsFailed, &o.Suppressed,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan adoption overview", err)
		}
		o.AnimalName = derefString(name)
		o.Species = derefString(species)
		o.NewOwnerEmail = derefString(ownerEmail)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate adoption overview", err)
	}
	return out, nil
}

// splitRaw decides which column carries the payload. Large payloads go to
// raw_zstd; the JSONB column is left NULL.
func splitRaw(raw json.RawMessage) (any, []byte) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) <= rawCompressThreshold {
		return []byte(raw), nil
	}
	return nil, rawEncoder.EncodeAll(raw, nil)
}

func joinRaw(raw, rawZstd []byte) (json.RawMessage, error) {
	if len(rawZstd) > 0 {
		out, err := rawDecoder.DecodeAll(rawZstd, nil)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}
