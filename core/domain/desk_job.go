package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a long-running background job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// ImportJob is the durable progress record for a knowledge-base import.
// The worker updates it as batches land; a polling client reads it back.
// Being a row and not an in-process map, it survives restarts.
type ImportJob struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Kind      string
	State     JobState
	Percent   int
	Total     int
	Indexed   int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Progress computes the percent complete from counters, clamped to 0-100.
func (j *ImportJob) Progress() int {
	if j.Total <= 0 {
		return 0
	}
	p := j.Indexed * 100 / j.Total
	if p > 100 {
		p = 100
	}
	return p
}
