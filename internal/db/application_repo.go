package db

import (
	"context"
	"time"

	"adoptnotify/internal/types"
)

// ApplicationRepository reads adoption applications written by the forms
// subsystem.
type ApplicationRepository struct {
	db DBTX
}

// NewApplicationRepository creates a new ApplicationRepository.
func NewApplicationRepository(db DBTX) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// FetchEligibleApplicants returns the applicant emails for animalID that
// have not been superseded and were created at or before notBefore. Emails
// are returned as stored; callers normalize them.
func (r *ApplicationRepository) FetchEligibleApplicants(ctx context.Context, animalID string, notBefore time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT applicant_email
		 FROM applications
		 WHERE animal_id = $1
		   AND superseded_at IS NULL
		   AND created_at <= $2
		 ORDER BY created_at ASC`,
		animalID,
		notBefore,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch eligible applicants", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan applicant", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate applicants", err)
	}
	return emails, nil
}

// CountActive returns the number of non-superseded applications for animalID.
func (r *ApplicationRepository) CountActive(ctx context.Context, animalID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM applications WHERE animal_id = $1 AND superseded_at IS NULL`,
		animalID,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count applications", err)
	}
	return n, nil
}

// FormStats counts applications per form created since the given time.
func (r *ApplicationRepository) FormStats(ctx context.Context, since time.Time) ([]types.FormStat, error) {
	rows, err := r.db.Query(ctx,
		`SELECT COALESCE(form_id, ''), COUNT(*)
		 FROM applications
		 WHERE created_at >= $1
		 GROUP BY form_id
		 ORDER BY COUNT(*) DESC`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query form stats", err)
	}
	defer rows.Close()

	stats := make([]types.FormStat, 0)
	for rows.Next() {
		var s types.FormStat
		if err := rows.Scan(&s.FormID, &s.Count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan form stat", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate form stats", err)
	}
	return stats, nil
}
