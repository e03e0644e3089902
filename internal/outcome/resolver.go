package outcome

import (
	"context"
	"time"

	"adoptnotify/internal/types"
)

// ResolutionKind classifies a resolved event.
type ResolutionKind int

const (
	// NoApplicants means nobody eligible applied; nothing is sent.
	NoApplicants ResolutionKind = iota
	// Resolved means at least one eligible applicant exists. Winner may
	// still be empty when the adopter never applied on the website.
	Resolved
)

func (k ResolutionKind) String() string {
	if k == Resolved {
		return "resolved"
	}
	return "no_applicants"
}

// Resolution partitions an event's eligible applicants.
type Resolution struct {
	Kind    ResolutionKind
	Winner  string
	Losers  []string
	Skipped int
}

// ApplicantSource lists eligible applicant emails for an animal: current
// applications created at or before notBefore.
type ApplicantSource interface {
	FetchEligibleApplicants(ctx context.Context, animalID string, notBefore time.Time) ([]string, error)
}

// Resolve classifies applicants against the event's new owner. Emails are
// normalised and de-duplicated in first-seen order; blanks are counted in
// Skipped. The winner is the applicant matching the owner's email and is
// never among the losers. With no match every applicant is a loser.
func Resolve(event *types.AdoptionEvent, applicants []string) Resolution {
	owner := NormalizeEmail(event.NewOwnerEmail)

	var res Resolution
	seen := make(map[string]struct{}, len(applicants))
	for _, a := range applicants {
		email := NormalizeEmail(a)
		if email == "" {
			res.Skipped++
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		if owner != "" && email == owner {
			res.Winner = email
			continue
		}
		res.Losers = append(res.Losers, email)
	}

	if len(seen) > 0 {
		res.Kind = Resolved
	}
	return res
}
