package pipeline_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

// fakeStore is an in-memory store.Store mirroring the guarded job state
// machine of the Postgres implementation.
type fakeStore struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*models.User
	jobs         map[uuid.UUID]*models.Job
	transactions []*models.CreditTransaction
	benchmarks   []*models.BenchmarkEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[uuid.UUID]*models.User),
		jobs:  make(map[uuid.UUID]*models.Job),
	}
}

var fakeValidTransitions = map[string][]string{
	models.JobStatusQueued:    {models.JobStatusRendering, models.JobStatusFailed, models.JobStatusCanceled},
	models.JobStatusRendering: {models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusCanceled},
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, nil
}
func (f *fakeStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) CreateAPIKey(context.Context, *models.APIKey) error    { return nil }

func (f *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != status {
		allowed := false
		for _, next := range fakeValidTransitions[job.Status] {
			if next == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return &store.StatusConflictError{JobID: id, Current: job.Status, Target: status}
		}
	}

	now := time.Now().UTC()
	if status == models.JobStatusRendering && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if models.IsTerminalStatus(status) && job.FinishedAt == nil {
		job.FinishedAt = &now
	}
	job.Status = status
	store.ApplyJobUpdateOptions(job, opts...)
	return nil
}

func (f *fakeStore) ListStaleJobs(_ context.Context, olderThan time.Time) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []*models.Job
	for _, job := range f.jobs {
		if models.IsTerminalStatus(job.Status) {
			continue
		}
		ref := job.CreatedAt
		if job.StartedAt != nil {
			ref = *job.StartedAt
		}
		if ref.Before(olderThan) {
			cp := *job
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

func (f *fakeStore) Debit(_ context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	user.CreditsBalance -= amount
	if user.CreditsBalance < 0 {
		user.CreditsBalance = 0
	}
	f.transactions = append(f.transactions, &models.CreditTransaction{
		ID: uuid.New(), UserID: userID, Type: models.TransactionDebit,
		Amount: amount, Reason: models.ReasonVideoEvaluation, JobID: &jobID,
		CreatedAt: time.Now().UTC(),
	})
	return user.CreditsBalance, nil
}

func (f *fakeStore) Grant(_ context.Context, userID uuid.UUID, amount int, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	user.CreditsBalance += amount
	f.transactions = append(f.transactions, &models.CreditTransaction{
		ID: uuid.New(), UserID: userID, Type: models.TransactionGrant,
		Amount: amount, Reason: reason, CreatedAt: time.Now().UTC(),
	})
	return user.CreditsBalance, nil
}

func (f *fakeStore) ListTransactions(_ context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CreditTransaction
	for _, tx := range f.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeStore) debitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tx := range f.transactions {
		if tx.Type == models.TransactionDebit {
			n++
		}
	}
	return n
}

func (f *fakeStore) AppendBenchmarkEntry(_ context.Context, entry *models.BenchmarkEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.benchmarks = append(f.benchmarks, entry)
	return nil
}

func (f *fakeStore) ListBenchmarkEntries(context.Context) ([]*models.BenchmarkEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.BenchmarkEntry, len(f.benchmarks))
	copy(out, f.benchmarks)
	return out, nil
}

var _ store.Store = (*fakeStore)(nil)

// fakeCache is an in-memory cache.Cache.
type fakeCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	statuses map[uuid.UUID]string
	reports  map[uuid.UUID]*models.Report
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values:   make(map[string][]byte),
		statuses: make(map[uuid.UUID]string),
		reports:  make(map[uuid.UUID]*models.Report),
	}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *fakeCache) Ping(context.Context) error { return nil }

func (c *fakeCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *fakeCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[jobID]
	return s, ok, nil
}

func (c *fakeCache) SetReport(_ context.Context, jobID uuid.UUID, report *models.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[jobID] = report
	return nil
}

func (c *fakeCache) GetReport(_ context.Context, jobID uuid.UUID) (*models.Report, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[jobID]
	return r, ok, nil
}

func (c *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}
