package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. Implementations must honor ctx cancellation.
	Execute(ctx context.Context) error

	// UserID names the user whose data the job touches, for logs and spans.
	UserID() string

	Description() string
}

// JobProvider lists the jobs for one scheduled run.
type JobProvider func(ctx context.Context) ([]Job, error)
