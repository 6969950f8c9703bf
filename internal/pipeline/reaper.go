package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

// ReaperStore is the slice of the persistence layer the reaper needs.
type ReaperStore interface {
	ListStaleJobs(ctx context.Context, olderThan time.Time) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error
}

// SlotReleaser frees a user's admission slot.
type SlotReleaser interface {
	Release(userID, jobID uuid.UUID)
}

// Reaper is the coarse backstop for abandoned jobs: on a fixed sweep
// interval it force-fails any job still non-terminal past the stale
// threshold and frees its admission slot. It is eventually consistent by
// design; the per-run deadline is the precise mechanism.
type Reaper struct {
	store     ReaperStore
	slots     SlotReleaser
	threshold time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	cron      *cron.Cron
}

func NewReaper(st ReaperStore, slots SlotReleaser, threshold, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:     st,
		slots:     slots,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the sweep. Returns an error only if the schedule spec is
// unparseable, which would be a programming bug.
func (r *Reaper) Start() error {
	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("scheduling reaper: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep force-fails every non-terminal job older than the stale threshold.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.threshold)
	stale, err := r.store.ListStaleJobs(ctx, cutoff)
	if err != nil {
		r.logger.Error("reaper could not list stale jobs", "error", err)
		return
	}

	for _, job := range stale {
		err := r.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
			store.WithJobError(models.ErrCodeStaleTimeout, "job abandoned past stale threshold"))
		var conflict *store.StatusConflictError
		if errors.As(err, &conflict) {
			// Finished between listing and update. Nothing to do.
			continue
		}
		if err != nil {
			r.logger.Error("reaper could not fail stale job", "job_id", job.ID, "error", err)
			continue
		}
		r.slots.Release(job.UserID, job.ID)
		r.logger.Warn("reaped stale job", "job_id", job.ID, "user_id", job.UserID,
			"created_at", job.CreatedAt, "started_at", job.StartedAt)
	}
}
