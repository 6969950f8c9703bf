package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adscope/adscope/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// StatusConflictError is returned when a job status update is attempted from
// a state that does not permit it (e.g. canceling an already-finished job).
type StatusConflictError struct {
	JobID   uuid.UUID
	Current string
	Target  string
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("job %s is %s; cannot transition to %s", e.JobID, e.Current, e.Target)
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	ListStaleJobs(ctx context.Context, olderThan time.Time) ([]*models.Job, error)

	Debit(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) (int, error)
	Grant(ctx context.Context, userID uuid.UUID, amount int, reason string) (int, error)
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error)

	AppendBenchmarkEntry(ctx context.Context, entry *models.BenchmarkEntry) error
	ListBenchmarkEntries(ctx context.Context) ([]*models.BenchmarkEntry, error)
}

type jobUpdateParams struct {
	ErrorCode       *string
	ErrorMessage    *string
	OutputURL       *string
	ProgressPct     *int
	TokensUsed      *int
	DurationSeconds *float64
}

type JobUpdateOption func(*jobUpdateParams)

// WithJobError records an error code and message on the job row.
func WithJobError(code, message string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorCode = &code
		p.ErrorMessage = &message
	}
}

// WithOutputURL records the report location on the job row.
func WithOutputURL(url string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.OutputURL = &url
	}
}

// WithProgress records the last reported progress percentage.
func WithProgress(pct int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ProgressPct = &pct
	}
}

// WithTokensUsed records the actual charge applied for the job.
func WithTokensUsed(tokens int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.TokensUsed = &tokens
	}
}

// WithDuration records the observed video duration.
func WithDuration(seconds float64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.DurationSeconds = &seconds
	}
}

// ApplyJobUpdateOptions applies update options directly to an in-memory job.
// Store implementations that hold jobs in memory use this to mirror the SQL
// update semantics.
func ApplyJobUpdateOptions(job *models.Job, opts ...JobUpdateOption) {
	var p jobUpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	if p.ErrorCode != nil {
		job.ErrorCode = p.ErrorCode
	}
	if p.ErrorMessage != nil {
		job.ErrorMessage = p.ErrorMessage
	}
	if p.OutputURL != nil {
		job.OutputURL = p.OutputURL
	}
	if p.ProgressPct != nil {
		job.ProgressPct = *p.ProgressPct
	}
	if p.TokensUsed != nil {
		job.TokensUsed = *p.TokensUsed
	}
	if p.DurationSeconds != nil {
		job.DurationSeconds = p.DurationSeconds
	}
}
