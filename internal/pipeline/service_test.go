package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscope/adscope/internal/config"
	"github.com/adscope/adscope/internal/credits"
	evalmock "github.com/adscope/adscope/internal/evaluator/mock"
	mediamock "github.com/adscope/adscope/internal/media/mock"
	"github.com/adscope/adscope/internal/notify"
	"github.com/adscope/adscope/internal/pipeline"
	"github.com/adscope/adscope/internal/scoring"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

type serviceFixture struct {
	svc   *pipeline.Service
	store *fakeStore
	cache *fakeCache
	slots *credits.SlotTable
	bg    *pipeline.Background
}

func newServiceFixture(eval models.FeatureEvaluator, media models.MediaExtractor, timeout time.Duration) *serviceFixture {
	st := newFakeStore()
	ca := newFakeCache()
	bg := pipeline.NewBackground(discardLogger())
	engine := scoring.NewBenchmarkEngine(st, discardLogger())
	slots := credits.NewSlotTable()
	orch := pipeline.NewOrchestrator(eval, media, pipeline.NewEvalCache(), ca, engine, bg, discardLogger())
	svc := pipeline.NewService(st, ca, orch, slots, engine, bg, notify.NopNotifier{}, discardLogger(),
		config.PipelineConfig{
			EvaluationTimeout: timeout,
			StaleThreshold:    2 * timeout,
			ReaperInterval:    time.Minute,
		},
		"https://adscope.example.com")
	return &serviceFixture{svc: svc, store: st, cache: ca, slots: slots, bg: bg}
}

func (f *serviceFixture) newUser(t *testing.T, balance int) *models.User {
	t.Helper()
	user := &models.User{ID: uuid.New(), Email: "ads@example.com", CreditsBalance: balance}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	return user
}

func defaultEvalConfig() models.EvalConfig {
	return models.EvalConfig{RunABCD: true, RunShorts: true, RunCreativeIntelligence: true, BrandName: "Acme"}
}

// blockingExtractor returns a media mock whose download blocks until release
// is closed, holding the pipeline mid-flight.
func blockingExtractor(release <-chan struct{}) *mediamock.Extractor {
	m := mediamock.NewExtractor()
	m.DownloadFunc = func(context.Context, string) (models.LocalMedia, error) {
		<-release
		return models.LocalMedia{Dir: "/tmp/adscope-mock", Path: "/tmp/adscope-mock/video.mp4"}, nil
	}
	return m
}

func TestService_RejectsInsufficientBalance(t *testing.T) {
	fx := newServiceFixture(evalmock.NewEvaluator(), mediamock.NewExtractor(), 5*time.Second)
	user := fx.newUser(t, 50)

	_, _, err := fx.svc.StartEvaluation(context.Background(), user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())

	var insufficient *credits.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 50, insufficient.Balance)
	assert.Equal(t, credits.MinTokensToRender, insufficient.Required)
	assert.Len(t, insufficient.Offers, 2)

	_, held := fx.slots.Holder(user.ID)
	assert.False(t, held, "a rejected start must not hold the slot")
}

func TestService_OneJobPerUser(t *testing.T) {
	release := make(chan struct{})
	fx := newServiceFixture(evalmock.NewEvaluator(), blockingExtractor(release), 5*time.Second)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)

	_, _, err = fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/other.mp4", defaultEvalConfig())
	var inFlight *pipeline.JobInFlightError
	require.ErrorAs(t, err, &inFlight)
	assert.Equal(t, job.ID, inFlight.HolderJobID)

	close(release)
	drainUntilClosed(t, stream)
}

func TestService_SuccessChargesExactlyOnce(t *testing.T) {
	fx := newServiceFixture(evalmock.NewEvaluator(), mediamock.NewExtractor(), 5*time.Second)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, credits.MaxTokensPerVideo, job.TokensEstimated)

	events := drainUntilClosed(t, stream)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, "complete", last.Step)

	payload, ok := last.Partial.(pipeline.CompletionPayload)
	require.True(t, ok)
	// 27.5s of video meters as ceil(27.5) * 10 tokens.
	assert.Equal(t, 280, payload.TokensUsed)
	assert.Equal(t, 720, payload.CreditsRemaining)
	assert.Equal(t, 27.5, payload.DurationSeconds)
	assert.Contains(t, payload.ReportURL, job.ID.String())
	require.NotNil(t, payload.Report)

	stored, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, stored.Status)
	assert.Equal(t, 100, stored.ProgressPct)
	assert.Equal(t, 280, stored.TokensUsed)
	require.NotNil(t, stored.DurationSeconds)
	assert.Equal(t, 27.5, *stored.DurationSeconds)
	require.NotNil(t, stored.OutputURL)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.FinishedAt)

	assert.Equal(t, 1, fx.store.debitCount())
	balance, err := fx.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 720, balance.CreditsBalance)

	_, held := fx.slots.Holder(user.ID)
	assert.False(t, held, "the slot frees when the worker exits")

	// Flush the fire-and-forget tail: history append and report mirror.
	fx.bg.Close()
	fx.store.mu.Lock()
	entries := len(fx.store.benchmarks)
	fx.store.mu.Unlock()
	assert.Equal(t, 1, entries)

	report, err := fx.svc.GetReport(ctx, user.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", report.BrandName)
}

func TestService_TimeoutFailsWithoutCharge(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fx := newServiceFixture(evalmock.NewEvaluator(), blockingExtractor(release), 30*time.Millisecond)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)

	events := drainUntilClosed(t, stream)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Step)
	partial, ok := last.Partial.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeTimeout, partial["error_code"])

	stored, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorCode)
	assert.Equal(t, models.ErrCodeTimeout, *stored.ErrorCode)

	assert.Equal(t, 0, fx.store.debitCount(), "a timed-out job never charges")
	_, held := fx.slots.Holder(user.ID)
	assert.False(t, held)
}

func TestService_TimedOutRunIsNeverCached(t *testing.T) {
	media := mediamock.NewExtractor()
	media.DownloadFunc = func(ctx context.Context, _ string) (models.LocalMedia, error) {
		<-ctx.Done()
		return models.LocalMedia{}, ctx.Err()
	}
	fx := newServiceFixture(evalmock.NewEvaluator(), media, 30*time.Millisecond)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	// Two identical requests in a row: the second must not be served the
	// degraded output of the timed-out first run as a cache hit.
	for run := 0; run < 2; run++ {
		job, stream, err := fx.svc.StartEvaluation(ctx, user,
			models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
		require.NoError(t, err)

		events := drainUntilClosed(t, stream)
		require.NotEmpty(t, events)
		assert.Equal(t, "error", events[len(events)-1].Step, "run %d", run)

		stored, err := fx.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, stored.Status, "run %d", run)
		require.NotNil(t, stored.ErrorCode)
		assert.Equal(t, models.ErrCodeTimeout, *stored.ErrorCode, "run %d", run)
	}

	assert.Equal(t, 0, fx.store.debitCount(), "timed-out runs never charge, even repeated ones")
}

func TestService_CancelPreventsCharge(t *testing.T) {
	release := make(chan struct{})
	fx := newServiceFixture(evalmock.NewEvaluator(), blockingExtractor(release), 5*time.Second)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := fx.store.GetJob(ctx, job.ID)
		return err == nil && stored.Status == models.JobStatusRendering
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, fx.svc.Cancel(ctx, user.ID, job.ID))
	_, held := fx.slots.Holder(user.ID)
	assert.False(t, held, "cancel frees the slot immediately")

	// Let the abandoned pipeline finish; its succeeded transition must lose
	// against the canceled row, and the stream must still end terminally.
	close(release)
	events := drainUntilClosed(t, stream)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Step)
	partial, ok := last.Partial.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeStreamInterrupted, partial["error_code"])
	assert.Equal(t, models.JobStatusCanceled, partial["status"])

	stored, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, stored.Status)
	assert.Equal(t, 0, fx.store.debitCount(), "a canceled job never charges")
}

func TestService_CancelChecksOwnership(t *testing.T) {
	release := make(chan struct{})
	fx := newServiceFixture(evalmock.NewEvaluator(), blockingExtractor(release), 5*time.Second)
	owner := fx.newUser(t, 1000)
	stranger := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, owner,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)

	err = fx.svc.Cancel(ctx, stranger.ID, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	close(release)
	drainUntilClosed(t, stream)
}

func TestService_CancelFinishedJobConflicts(t *testing.T) {
	fx := newServiceFixture(evalmock.NewEvaluator(), mediamock.NewExtractor(), 5*time.Second)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)
	drainUntilClosed(t, stream)

	err = fx.svc.Cancel(ctx, user.ID, job.ID)
	var conflict *store.StatusConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.JobStatusSucceeded, conflict.Current)
}

func TestService_WorkerPanicFailsJob(t *testing.T) {
	media := mediamock.NewExtractor()
	media.TrimLeaderFunc = func(context.Context, string) error { panic("ffmpeg segfault") }
	fx := newServiceFixture(evalmock.NewEvaluator(), media, 5*time.Second)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindUpload, "staging/upload.mp4", defaultEvalConfig())
	require.NoError(t, err)

	drainUntilClosed(t, stream)

	stored, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorCode)
	assert.Equal(t, models.ErrCodePipeline, *stored.ErrorCode)
	assert.Equal(t, 0, fx.store.debitCount())
	_, held := fx.slots.Holder(user.ID)
	assert.False(t, held)
}

func TestService_GetJobChecksOwnership(t *testing.T) {
	fx := newServiceFixture(evalmock.NewEvaluator(), mediamock.NewExtractor(), 5*time.Second)
	user := fx.newUser(t, 1000)
	stranger := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)
	drainUntilClosed(t, stream)

	got, err := fx.svc.GetJob(ctx, user.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = fx.svc.GetJob(ctx, stranger.ID, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_GetReportMissingUntilMirrored(t *testing.T) {
	fx := newServiceFixture(evalmock.NewEvaluator(), mediamock.NewExtractor(), 5*time.Second)
	user := fx.newUser(t, 1000)
	ctx := context.Background()

	job, stream, err := fx.svc.StartEvaluation(ctx, user,
		models.SourceKindURL, "gs://ads/video.mp4", defaultEvalConfig())
	require.NoError(t, err)

	_, err = fx.svc.GetReport(ctx, user.ID, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	drainUntilClosed(t, stream)
	fx.bg.Close()

	report, err := fx.svc.GetReport(ctx, user.ID, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, report)
}
