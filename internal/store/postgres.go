package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adscope/adscope/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, credits_balance, is_admin, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.CreditsBalance, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, credits_balance, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.CreditsBalance, user.IsAdmin, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, user_id, status, progress_pct, source_kind, source_ref, config_json,
	 tokens_estimated, tokens_used, duration_seconds, output_url, error_code, error_message,
	 created_at, started_at, finished_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.ProgressPct, &j.SourceKind, &j.SourceRef,
		&j.ConfigJSON, &j.TokensEstimated, &j.TokensUsed, &j.DurationSeconds, &j.OutputURL,
		&j.ErrorCode, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, status, progress_pct, source_kind, source_ref, config_json,
		   tokens_estimated, tokens_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.UserID, job.Status, job.ProgressPct, job.SourceKind, job.SourceRef,
		job.ConfigJSON, job.TokensEstimated, job.TokensUsed, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

var validTransitions = map[string][]string{
	models.JobStatusQueued:    {models.JobStatusRendering, models.JobStatusFailed, models.JobStatusCanceled},
	models.JobStatusRendering: {models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusCanceled},
}

// UpdateJobStatus applies a guarded status transition. The current row is
// locked for the duration of the check so two writers racing to finish the
// same job cannot both win; the loser gets a StatusConflictError.
// finished_at is written exactly once, on the first terminal transition.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin job update: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if currentStatus != status {
		valid := false
		for _, a := range validTransitions[currentStatus] {
			if a == status {
				valid = true
				break
			}
		}
		if !valid {
			return &StatusConflictError{JobID: id, Current: currentStatus, Target: status}
		}
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2`
	args := []any{id, status}
	argIdx := 3

	if status == models.JobStatusRendering && currentStatus != models.JobStatusRendering {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if models.IsTerminalStatus(status) {
		query += fmt.Sprintf(", finished_at = COALESCE(finished_at, $%d)", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ProgressPct != nil {
		query += fmt.Sprintf(", progress_pct = $%d", argIdx)
		args = append(args, *params.ProgressPct)
		argIdx++
	}
	if params.ErrorCode != nil {
		query += fmt.Sprintf(", error_code = $%d", argIdx)
		args = append(args, *params.ErrorCode)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.OutputURL != nil {
		query += fmt.Sprintf(", output_url = $%d", argIdx)
		args = append(args, *params.OutputURL)
		argIdx++
	}
	if params.TokensUsed != nil {
		query += fmt.Sprintf(", tokens_used = $%d", argIdx)
		args = append(args, *params.TokensUsed)
		argIdx++
	}
	if params.DurationSeconds != nil {
		query += fmt.Sprintf(", duration_seconds = $%d", argIdx)
		args = append(args, *params.DurationSeconds)
		argIdx++
	}

	query += " WHERE id = $1"

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job update: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStaleJobs(ctx context.Context, olderThan time.Time) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ($1, $2) AND COALESCE(started_at, created_at) < $3`,
		models.JobStatusQueued, models.JobStatusRendering, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Credit Ledger ---

// Debit subtracts tokens from the user's balance and appends a ledger row in
// one transaction. The balance floors at zero. Returns the new balance.
func (s *PostgresStore) Debit(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int
	err = tx.QueryRow(ctx,
		`UPDATE users SET credits_balance = GREATEST(0, credits_balance - $2), updated_at = NOW()
		 WHERE id = $1 RETURNING credits_balance`, userID, amount,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, reason, job_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		uuid.New(), userID, models.TransactionDebit, amount, models.ReasonVideoEvaluation, jobID)
	if err != nil {
		return 0, fmt.Errorf("insert debit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return newBalance, nil
}

// Grant adds tokens to the user's balance and appends a ledger row in one
// transaction. Returns the new balance.
func (s *PostgresStore) Grant(ctx context.Context, userID uuid.UUID, amount int, reason string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin grant: %w", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int
	err = tx.QueryRow(ctx,
		`UPDATE users SET credits_balance = credits_balance + $2, updated_at = NOW()
		 WHERE id = $1 RETURNING credits_balance`, userID, amount,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("grant balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.New(), userID, models.TransactionGrant, amount, reason)
	if err != nil {
		return 0, fmt.Errorf("insert grant transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit grant: %w", err)
	}
	return newBalance, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount, reason, job_id, created_at
		 FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Reason, &t.JobID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

// --- Benchmark History ---

func (s *PostgresStore) AppendBenchmarkEntry(ctx context.Context, entry *models.BenchmarkEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO benchmark_history (id, job_id, abcd_score, persuasion_score, performance_score, vertical, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.JobID, entry.ABCDScore, entry.PersuasionScore, entry.PerformanceScore,
		entry.Vertical, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append benchmark entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBenchmarkEntries(ctx context.Context) ([]*models.BenchmarkEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, abcd_score, persuasion_score, performance_score, vertical, created_at
		 FROM benchmark_history ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list benchmark entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.BenchmarkEntry
	for rows.Next() {
		var e models.BenchmarkEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.ABCDScore, &e.PersuasionScore, &e.PerformanceScore,
			&e.Vertical, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan benchmark entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
