package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrJobNotFound         = errors.New("job not found")
	ErrIssueNotFound       = errors.New("issue not found")
	ErrDeliveryNotFound    = errors.New("delivery not found")
	ErrPreferencesNotFound = errors.New("preferences not found")

	// ErrActiveJobExists is returned when a queued or processing job already
	// holds the (issue, type) slot.
	ErrActiveJobExists = errors.New("active job already exists for issue")
)

// activeJobConstraint is the partial unique index guarding one active job per (issue, type).
const activeJobConstraint = "jobs_active_issue_type_uniq"

// ErrJobNotProcessing is returned when a terminal transition targets a job
// that is no longer processing, for example after stale job recovery.
var ErrJobNotProcessing = errors.New("job is not processing")
