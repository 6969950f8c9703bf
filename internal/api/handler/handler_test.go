package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscope/adscope/internal/api/handler"
	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/credits"
	"github.com/adscope/adscope/internal/pipeline"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

// --- fake evaluation service ---

type fakeService struct {
	job       *models.Job
	stream    *pipeline.Stream
	report    *models.Report
	startErr  error
	getJobErr error
	cancelErr error
	reportErr error

	gotSourceKind string
	gotSourceRef  string
	gotConfig     models.EvalConfig
}

func (f *fakeService) StartEvaluation(_ context.Context, _ *models.User, sourceKind, sourceRef string, cfg models.EvalConfig) (*models.Job, *pipeline.Stream, error) {
	f.gotSourceKind = sourceKind
	f.gotSourceRef = sourceRef
	f.gotConfig = cfg
	if f.startErr != nil {
		return nil, nil, f.startErr
	}
	return f.job, f.stream, nil
}

func (f *fakeService) GetJob(_ context.Context, _, _ uuid.UUID) (*models.Job, error) {
	return f.job, f.getJobErr
}

func (f *fakeService) Cancel(_ context.Context, _, _ uuid.UUID) error { return f.cancelErr }

func (f *fakeService) GetReport(_ context.Context, _, _ uuid.UUID) (*models.Report, error) {
	return f.report, f.reportErr
}

// --- fake store (only the methods these handlers reach) ---

type fakeUserStore struct {
	store.Store

	user         *models.User
	userErr      error
	transactions []*models.CreditTransaction
	createdKey   *models.APIKey
	grantedTo    uuid.UUID
	granted      int
	grantErr     error
	balance      int
}

func (f *fakeUserStore) GetUser(_ context.Context, _ uuid.UUID) (*models.User, error) {
	return f.user, f.userErr
}

func (f *fakeUserStore) ListTransactions(_ context.Context, _ uuid.UUID) ([]*models.CreditTransaction, error) {
	return f.transactions, nil
}

func (f *fakeUserStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	f.createdKey = key
	return nil
}

func (f *fakeUserStore) Grant(_ context.Context, userID uuid.UUID, amount int, _ string) (int, error) {
	if f.grantErr != nil {
		return 0, f.grantErr
	}
	f.grantedTo = userID
	f.granted = amount
	return f.balance + amount, nil
}

// --- helpers ---

func authedRequest(method, target string, body *bytes.Buffer, userID uuid.UUID) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	return req.WithContext(mw.SetUserID(req.Context(), userID))
}

func withJobID(req *http.Request, jobID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", jobID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["data"].(map[string]any)
}

func sseEvents(t *testing.T, w *httptest.ResponseRecorder) []pipeline.Event {
	t.Helper()
	var events []pipeline.Event
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev pipeline.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func testUser(balance int) *models.User {
	return &models.User{ID: uuid.New(), Email: "ads@example.com", CreditsBalance: balance}
}

// ========================================
// Evaluate Handler Tests
// ========================================

func TestEvaluate_URLSourceStreamsEvents(t *testing.T) {
	user := testUser(1000)
	stream := pipeline.NewStream()
	stream.Publish("trim", "Preparing video...", 5)
	stream.Publish("complete", "Evaluation complete", 100)
	stream.Close()

	svc := &fakeService{
		job:    &models.Job{ID: uuid.New(), UserID: user.ID, Status: models.JobStatusQueued},
		stream: stream,
	}
	h := handler.NewEvaluateHandler(svc, &fakeUserStore{user: user}, t.TempDir())

	body := bytes.NewBufferString(`{"source_url":"https://cdn.example.com/ad.mp4","config":{"run_abcd":true}}`)
	req := authedRequest("POST", "/api/v1/evaluate", body, user.ID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, models.SourceKindURL, svc.gotSourceKind)
	assert.Equal(t, "https://cdn.example.com/ad.mp4", svc.gotSourceRef)
	assert.True(t, svc.gotConfig.RunABCD)
	assert.False(t, svc.gotConfig.RunShorts, "explicit single-category config is respected")

	events := sseEvents(t, w)
	require.Len(t, events, 3)
	assert.Equal(t, "queued", events[0].Step)
	assert.Equal(t, "trim", events[1].Step)
	assert.Equal(t, "complete", events[2].Step)
}

func TestEvaluate_EmptyConfigEnablesAllCategories(t *testing.T) {
	user := testUser(1000)
	stream := pipeline.NewStream()
	stream.Close()
	svc := &fakeService{
		job:    &models.Job{ID: uuid.New(), UserID: user.ID},
		stream: stream,
	}
	h := handler.NewEvaluateHandler(svc, &fakeUserStore{user: user}, t.TempDir())

	body := bytes.NewBufferString(`{"source_url":"gs://ads/video.mp4"}`)
	req := authedRequest("POST", "/api/v1/evaluate", body, user.ID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.gotConfig.RunABCD)
	assert.True(t, svc.gotConfig.RunShorts)
	assert.True(t, svc.gotConfig.RunCreativeIntelligence)
}

func TestEvaluate_MissingSourceURL(t *testing.T) {
	user := testUser(1000)
	h := handler.NewEvaluateHandler(&fakeService{}, &fakeUserStore{user: user}, t.TempDir())

	body := bytes.NewBufferString(`{"config":{"run_abcd":true}}`)
	req := authedRequest("POST", "/api/v1/evaluate", body, user.ID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w)["code"])
}

func TestEvaluate_RejectsNonHTTPSource(t *testing.T) {
	user := testUser(1000)
	h := handler.NewEvaluateHandler(&fakeService{}, &fakeUserStore{user: user}, t.TempDir())

	body := bytes.NewBufferString(`{"source_url":"ftp://example.com/ad.mp4"}`)
	req := authedRequest("POST", "/api/v1/evaluate", body, user.ID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluate_InsufficientCredits(t *testing.T) {
	user := testUser(50)
	svc := &fakeService{startErr: &credits.InsufficientBalanceError{
		Balance: 50, Required: 100, Offers: credits.TokenPacks,
	}}
	h := handler.NewEvaluateHandler(svc, &fakeUserStore{user: user}, t.TempDir())

	body := bytes.NewBufferString(`{"source_url":"gs://ads/video.mp4"}`)
	req := authedRequest("POST", "/api/v1/evaluate", body, user.ID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	errObj := decodeError(t, w)
	assert.Equal(t, "INSUFFICIENT_CREDITS", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Len(t, details["offers"], 2)
}

func TestEvaluate_JobInFlight(t *testing.T) {
	user := testUser(1000)
	holder := uuid.New()
	svc := &fakeService{startErr: &pipeline.JobInFlightError{HolderJobID: holder}}
	h := handler.NewEvaluateHandler(svc, &fakeUserStore{user: user}, t.TempDir())

	body := bytes.NewBufferString(`{"source_url":"gs://ads/video.mp4"}`)
	req := authedRequest("POST", "/api/v1/evaluate", body, user.ID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decodeError(t, w)
	assert.Equal(t, "JOB_IN_FLIGHT", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, holder.String(), details["job_id"])
}

func TestEvaluate_MultipartUpload(t *testing.T) {
	user := testUser(1000)
	stream := pipeline.NewStream()
	stream.Close()
	svc := &fakeService{
		job:    &models.Job{ID: uuid.New(), UserID: user.ID},
		stream: stream,
	}
	uploadDir := t.TempDir()
	h := handler.NewEvaluateHandler(svc, &fakeUserStore{user: user}, uploadDir)

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	fw, err := mpw.CreateFormFile("video", "ad.mp4")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake video bytes"))
	require.NoError(t, err)
	require.NoError(t, mpw.WriteField("config", `{"run_abcd":true,"brand_name":"Acme"}`))
	require.NoError(t, mpw.Close())

	req := authedRequest("POST", "/api/v1/evaluate", &buf, user.ID)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SourceKindUpload, svc.gotSourceKind)
	assert.True(t, strings.HasPrefix(svc.gotSourceRef, uploadDir))
	assert.True(t, strings.HasSuffix(svc.gotSourceRef, ".mp4"))
	assert.Equal(t, "Acme", svc.gotConfig.BrandName)
}

// ========================================
// Job Handler Tests
// ========================================

func TestGetJob_Found(t *testing.T) {
	user := testUser(1000)
	job := &models.Job{ID: uuid.New(), UserID: user.ID, Status: models.JobStatusRendering, ProgressPct: 42}
	h := handler.NewGetJobHandler(&fakeService{job: job})

	req := withJobID(authedRequest("GET", "/api/v1/jobs/"+job.ID.String(), nil, user.ID), job.ID.String())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, models.JobStatusRendering, data["status"])
	assert.Equal(t, float64(42), data["progress_pct"])
}

func TestGetJob_NotFound(t *testing.T) {
	h := handler.NewGetJobHandler(&fakeService{getJobErr: store.ErrNotFound})

	jobID := uuid.NewString()
	req := withJobID(authedRequest("GET", "/api/v1/jobs/"+jobID, nil, uuid.New()), jobID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, w)["code"])
}

func TestGetJob_InvalidID(t *testing.T) {
	h := handler.NewGetJobHandler(&fakeService{})

	req := withJobID(authedRequest("GET", "/api/v1/jobs/not-a-uuid", nil, uuid.New()), "not-a-uuid")
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelJob_Succeeds(t *testing.T) {
	user := testUser(1000)
	job := &models.Job{ID: uuid.New(), UserID: user.ID, Status: models.JobStatusCanceled}
	h := handler.NewCancelJobHandler(&fakeService{job: job})

	req := withJobID(authedRequest("POST", "/api/v1/jobs/"+job.ID.String()+"/cancel", nil, user.ID), job.ID.String())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.JobStatusCanceled, decodeData(t, w)["status"])
}

func TestCancelJob_AlreadyFinished(t *testing.T) {
	jobID := uuid.New()
	h := handler.NewCancelJobHandler(&fakeService{cancelErr: &store.StatusConflictError{
		JobID: jobID, Current: models.JobStatusSucceeded, Target: models.JobStatusCanceled,
	}})

	req := withJobID(authedRequest("POST", "/api/v1/jobs/"+jobID.String()+"/cancel", nil, uuid.New()), jobID.String())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decodeError(t, w)
	assert.Equal(t, "JOB_ALREADY_FINISHED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, models.JobStatusSucceeded, details["status"])
}

// ========================================
// Report Handler Tests
// ========================================

func TestGetReport_Found(t *testing.T) {
	user := testUser(1000)
	report := &models.Report{BrandName: "Acme", ABCD: models.CategorySummary{Score: 80}}
	h := handler.NewGetReportHandler(&fakeService{report: report})

	jobID := uuid.NewString()
	req := withJobID(authedRequest("GET", "/api/v1/reports/"+jobID, nil, user.ID), jobID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "Acme", data["brand_name"])
}

func TestGetReport_NotReady(t *testing.T) {
	h := handler.NewGetReportHandler(&fakeService{reportErr: store.ErrNotFound})

	jobID := uuid.NewString()
	req := withJobID(authedRequest("GET", "/api/v1/reports/"+jobID, nil, uuid.New()), jobID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "REPORT_NOT_FOUND", decodeError(t, w)["code"])
}

// ========================================
// Credits Handler Tests
// ========================================

func TestCredits_ReturnsBalanceAndPacks(t *testing.T) {
	user := testUser(720)
	st := &fakeUserStore{user: user, transactions: []*models.CreditTransaction{
		{ID: uuid.New(), UserID: user.ID, Type: models.TransactionDebit, Amount: 280, Reason: models.ReasonVideoEvaluation},
	}}
	h := handler.NewCreditsHandler(st)

	req := authedRequest("GET", "/api/v1/credits", nil, user.ID)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(720), data["balance"])
	assert.Len(t, data["transactions"], 1)
	assert.Len(t, data["packs"], 2)
}

func TestCredits_RequiresAuthContext(t *testing.T) {
	h := handler.NewCreditsHandler(&fakeUserStore{})

	req := httptest.NewRequest("GET", "/api/v1/credits", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ========================================
// Health Handler Tests
// ========================================

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth_AllUp(t *testing.T) {
	h := handler.NewHealthHandler(fakePinger{}, fakePinger{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "up", data["postgres"])
	assert.Equal(t, "up", data["redis"])
}

func TestHealth_PostgresDown(t *testing.T) {
	h := handler.NewHealthHandler(fakePinger{err: errors.New("connection refused")}, fakePinger{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	errObj := decodeError(t, w)
	assert.Equal(t, "UNHEALTHY", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "down", details["postgres"])
	assert.Equal(t, "up", details["redis"])
}

// ========================================
// Admin Handler Tests
// ========================================

func TestCreateKey_ReturnsRawKeyOnce(t *testing.T) {
	user := testUser(0)
	st := &fakeUserStore{user: user}
	h := handler.NewCreateKeyHandler(st)

	body := bytes.NewBufferString(`{"user_id":"` + user.ID.String() + `","name":"ci key","scopes":["read"]}`)
	req := authedRequest("POST", "/api/v1/admin/keys", body, uuid.New())
	w := httptest.NewRecorder()
	h(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	rawKey := data["key"].(string)
	assert.True(t, strings.HasPrefix(rawKey, "as_"))
	assert.Equal(t, rawKey[:8], data["key_prefix"])

	require.NotNil(t, st.createdKey)
	assert.Equal(t, user.ID, st.createdKey.UserID)
	assert.NotEqual(t, rawKey, st.createdKey.KeyHash, "only the hash is stored")
}

func TestCreateKey_RequiresName(t *testing.T) {
	h := handler.NewCreateKeyHandler(&fakeUserStore{})

	body := bytes.NewBufferString(`{"user_id":"` + uuid.NewString() + `"}`)
	req := authedRequest("POST", "/api/v1/admin/keys", body, uuid.New())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrantCredits_Succeeds(t *testing.T) {
	userID := uuid.New()
	st := &fakeUserStore{balance: 100}
	h := handler.NewGrantCreditsHandler(st)

	body := bytes.NewBufferString(`{"user_id":"` + userID.String() + `","tokens":500}`)
	req := authedRequest("POST", "/api/v1/admin/credits", body, uuid.New())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(600), data["balance"])
	assert.Equal(t, userID, st.grantedTo)
	assert.Equal(t, 500, st.granted)
}

func TestGrantCredits_RejectsNonPositive(t *testing.T) {
	h := handler.NewGrantCreditsHandler(&fakeUserStore{})

	body := bytes.NewBufferString(`{"user_id":"` + uuid.NewString() + `","tokens":0}`)
	req := authedRequest("POST", "/api/v1/admin/credits", body, uuid.New())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
