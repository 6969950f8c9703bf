package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adscope/adscope/internal/cache"
	"github.com/adscope/adscope/internal/config"
	"github.com/adscope/adscope/internal/credits"
	"github.com/adscope/adscope/internal/notify"
	"github.com/adscope/adscope/internal/scoring"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// JobInFlightError is returned when a user already has an evaluation running.
type JobInFlightError struct {
	HolderJobID uuid.UUID
}

func (e *JobInFlightError) Error() string {
	return fmt.Sprintf("an evaluation is already in progress (job %s)", e.HolderJobID)
}

// CompletionPayload travels on the terminal "complete" progress event.
type CompletionPayload struct {
	Report           *models.Report `json:"report"`
	TokensUsed       int            `json:"tokens_used"`
	CreditsRemaining int            `json:"credits_remaining"`
	DurationSeconds  float64        `json:"duration_seconds"`
	ReportURL        string         `json:"report_url,omitempty"`
}

// Service ties admission control, the orchestrator worker, and post-success
// accounting together. One Service instance serves the whole process.
type Service struct {
	store         store.Store
	cache         cache.Cache
	orch          *Orchestrator
	slots         *credits.SlotTable
	benchmarks    *scoring.BenchmarkEngine
	background    *Background
	notifier      models.Notifier
	logger        *slog.Logger
	cfg           config.PipelineConfig
	publicBaseURL string
}

func NewService(
	st store.Store,
	ca cache.Cache,
	orch *Orchestrator,
	slots *credits.SlotTable,
	benchmarks *scoring.BenchmarkEngine,
	background *Background,
	notifier models.Notifier,
	logger *slog.Logger,
	cfg config.PipelineConfig,
	publicBaseURL string,
) *Service {
	return &Service{
		store:         st,
		cache:         ca,
		orch:          orch,
		slots:         slots,
		benchmarks:    benchmarks,
		background:    background,
		notifier:      notifier,
		logger:        logger,
		cfg:           cfg,
		publicBaseURL: publicBaseURL,
	}
}

// StartEvaluation admits and launches one evaluation. On success the job row
// is persisted in `queued` and a worker goroutine owns it from there; the
// returned Stream carries progress until its Closed flag is set. Admission
// failures (insufficient balance, job already in flight) are returned
// immediately with no slot held and no job row written.
func (s *Service) StartEvaluation(ctx context.Context, user *models.User, sourceKind, sourceRef string, cfg models.EvalConfig) (*models.Job, *Stream, error) {
	if err := credits.ValidateBalance(user.CreditsBalance); err != nil {
		return nil, nil, err
	}

	jobID := uuid.New()
	if ok, holder := s.slots.TryAdmit(user.ID, jobID); !ok {
		return nil, nil, &JobInFlightError{HolderJobID: holder}
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		s.slots.Release(user.ID, jobID)
		return nil, nil, fmt.Errorf("encoding config: %w", err)
	}

	job := &models.Job{
		ID:              jobID,
		UserID:          user.ID,
		Status:          models.JobStatusQueued,
		SourceKind:      sourceKind,
		SourceRef:       sourceRef,
		ConfigJSON:      string(cfgJSON),
		TokensEstimated: credits.MaxTokensPerVideo,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.slots.Release(user.ID, jobID)
		return nil, nil, fmt.Errorf("creating job: %w", err)
	}
	_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusQueued, jobStatusTTL)

	stream := NewStream()
	go s.runJob(job, user, cfg, stream)

	return job, stream, nil
}

// runJob drives one evaluation to a terminal state. It never inherits the
// request context: a client disconnect must not cancel the worker. The
// deferred finalizer force-fails any job left non-terminal and releases the
// admission slot exactly once.
func (s *Service) runJob(job *models.Job, user *models.User, cfg models.EvalConfig, stream *Stream) {
	logger := s.logger.With("job_id", job.ID, "user_id", job.UserID)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EvaluationTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in evaluation worker", "error", r)
			s.failJob(job.ID, models.ErrCodePipeline, fmt.Sprintf("panic: %v", r), stream)
		}
		s.finalize(job.ID, stream, logger)
		s.slots.Release(job.UserID, job.ID)
		stream.Close()
	}()

	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRendering); err != nil {
		logger.Error("failed to mark job rendering", "error", err)
		s.failJob(job.ID, models.ErrCodePipeline, "could not start evaluation", stream)
		return
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusRendering, jobStatusTTL)

	type runResult struct {
		report   *models.Report
		cacheHit bool
		err      error
	}
	done := make(chan runResult, 1)
	go func() {
		report, cacheHit, err := s.orch.Run(ctx, job, cfg, stream)
		done <- runResult{report, cacheHit, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			logger.Error("pipeline failed", "error", res.err)
			code, message := models.ErrCodePipeline, res.err.Error()
			if errors.Is(res.err, context.DeadlineExceeded) {
				code, message = models.ErrCodeTimeout, "evaluation exceeded time limit"
			}
			s.failJob(job.ID, code, message, stream)
			return
		}
		s.completeJob(ctx, job, user, res.report, res.cacheHit, stream, logger)
	case <-ctx.Done():
		// The deadline cancels in-flight collaborator calls via ctx; the
		// orchestrator goroutine is abandoned and no charge is applied.
		logger.Warn("evaluation timed out", "timeout", s.cfg.EvaluationTimeout)
		s.failJob(job.ID, models.ErrCodeTimeout, "evaluation exceeded time limit", stream)
	}
}

// completeJob applies the post-success sequence: guarded terminal update,
// exactly-once charge, fire-and-forget history/report/notification work, and
// the terminal progress event.
func (s *Service) completeJob(ctx context.Context, job *models.Job, user *models.User, report *models.Report, cacheHit bool, stream *Stream, logger *slog.Logger) {
	duration, known := credits.ChargeableDuration(&report.VideoMetadata)
	if !known {
		logger.Warn("could not determine video duration, charging maximum",
			"max_seconds", credits.MaxVideoSeconds)
	}
	tokens := credits.RequiredTokens(duration)

	reportURL := ""
	if s.publicBaseURL != "" {
		reportURL = fmt.Sprintf("%s/api/v1/reports/%s", s.publicBaseURL, job.ID)
	}

	opts := []store.JobUpdateOption{
		store.WithProgress(100),
		store.WithTokensUsed(tokens),
		store.WithDuration(duration),
	}
	if reportURL != "" {
		opts = append(opts, store.WithOutputURL(reportURL))
	}
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded, opts...); err != nil {
		var conflict *store.StatusConflictError
		if errors.As(err, &conflict) {
			// Canceled or reaped while the pipeline was finishing. The
			// terminal state wins, no charge is applied, and the stream
			// still ends with a terminal event.
			logger.Warn("job reached terminal state before completion", "current", conflict.Current)
			stream.PublishPartial("error",
				fmt.Sprintf("evaluation ended as %s before results were delivered", conflict.Current), 100,
				map[string]string{
					"error_code": models.ErrCodeStreamInterrupted,
					"status":     conflict.Current,
				})
			return
		}
		logger.Error("failed to mark job succeeded", "error", err)
		s.failJob(job.ID, models.ErrCodePipeline, "could not persist result", stream)
		return
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusSucceeded, jobStatusTTL)

	// Charge only lands after the guarded succeeded transition: a failed,
	// timed-out, or canceled job never produces a debit.
	balance := user.CreditsBalance
	newBalance, err := s.store.Debit(ctx, job.UserID, tokens, job.ID)
	if err != nil {
		logger.Error("post-success debit failed", "tokens", tokens, "error", err)
	} else {
		balance = newBalance
	}

	s.background.Submit("benchmark-history", func(ctx context.Context) error {
		return s.benchmarks.LogEvaluation(ctx, job.ID,
			float64(report.ABCD.Score), float64(report.Persuasion.Score),
			report.Predictions.OverallScore, report.BrandIntelligence.ProductService)
	})
	s.background.Submit("report-mirror", func(ctx context.Context) error {
		return s.cache.SetReport(ctx, job.ID, report)
	})
	s.background.Submit("notify-success", func(ctx context.Context) error {
		notify.LoggedNotify(ctx, s.notifier, s.logger, models.NotificationEvent{
			Kind:      "evaluation_succeeded",
			JobID:     job.ID,
			UserEmail: user.Email,
			Message:   fmt.Sprintf("Evaluation finished for %s", report.SourceRef),
			ReportURL: reportURL,
		})
		return nil
	})

	stream.PublishPartial("complete", "Evaluation complete", 100, CompletionPayload{
		Report:           report,
		TokensUsed:       tokens,
		CreditsRemaining: balance,
		DurationSeconds:  duration,
		ReportURL:        reportURL,
	})
	logger.Info("evaluation succeeded",
		"tokens_used", tokens, "duration_seconds", duration, "cache_hit", cacheHit)
}

// failJob forces the job to failed with the given code. Conflicts with an
// existing terminal state are expected (cancel or reaper races) and ignored.
func (s *Service) failJob(jobID uuid.UUID, code, message string, stream *Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed,
		store.WithJobError(code, message))
	var conflict *store.StatusConflictError
	if err != nil && !errors.As(err, &conflict) {
		s.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
	if err == nil {
		_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusFailed, jobStatusTTL)
	}
	stream.PublishPartial("error", message, 100, map[string]string{"error_code": code})
}

// finalize is the stream-interruption safety net: if the worker is exiting
// but the job row is still non-terminal, force it to failed so the state
// machine always terminates.
func (s *Service) finalize(jobID uuid.UUID, stream *Stream, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	current, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("finalizer could not load job", "error", err)
		return
	}
	if models.IsTerminalStatus(current.Status) {
		return
	}
	logger.Warn("job non-terminal after worker exit, forcing failure")
	s.failJob(jobID, models.ErrCodeStreamInterrupted, "evaluation stream was interrupted", stream)
}

// Cancel transitions the user's job to canceled. Returns the store's
// StatusConflictError when the job already reached a terminal state.
func (s *Service) Cancel(ctx context.Context, userID, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.UserID != userID {
		return store.ErrNotFound
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCanceled); err != nil {
		return err
	}
	_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusCanceled, jobStatusTTL)
	// The worker keeps running, but its succeeded transition will conflict
	// with the canceled row and no charge will be applied.
	s.slots.Release(userID, jobID)
	return nil
}

// GetJob loads a job owned by the user.
func (s *Service) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, store.ErrNotFound
	}
	return job, nil
}

// GetReport returns the persisted report for a succeeded job.
func (s *Service) GetReport(ctx context.Context, userID, jobID uuid.UUID) (*models.Report, error) {
	if _, err := s.GetJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	report, found, err := s.cache.GetReport(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return report, nil
}
