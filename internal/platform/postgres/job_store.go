package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/store"
)

const jobColumns = `id, batch_id, seq, target_document_id, module_key, module_identifier,
	module_index, subsection_key, subsection_title, subsection_index, content_excerpt,
	generation_context, status, attempt_count, last_error, retry_not_before,
	lease_expires_at, claim_token, created_at, started_at, completed_at, updated_at`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	sqlDB  *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// When db is a *sql.DB, multi-statement operations run in their own
// transaction; when it is a *sql.Tx they join it.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger, opts ...Option) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	sqlDB, _ := db.(*sql.DB)
	return &PostgresJobStore{
		db:     db,
		sqlDB:  sqlDB,
		now:    buildOptions(opts).now,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// CreateBatch implements store.JobStore.CreateBatch
// The batch row and all of its jobs are written in one transaction.
func (s *PostgresJobStore) CreateBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := batch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	err := withTx(ctx, s.sqlDB, s.db, func(db store.DBTX) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO generation_batches (id, course_title, target_document_id, total_jobs, created_at)
			VALUES ($1, $2, $3, 0, $4)
		`, batch.ID, batch.CourseTitle, nullUUID(batch.TargetDocumentID), batch.CreatedAt)
		if err != nil {
			return MapError(err)
		}
		return insertJobs(ctx, db, jobs)
	})
	if err != nil {
		log.Error("failed to create batch",
			slog.String("batch_id", batch.ID.String()),
			slog.Int("jobs", len(jobs)),
			slog.String("error", err.Error()))
		return err
	}

	log.Debug("batch created",
		slog.String("batch_id", batch.ID.String()),
		slog.Int("jobs", len(jobs)))
	return nil
}

// InsertMany implements store.JobStore.InsertMany
func (s *PostgresJobStore) InsertMany(ctx context.Context, jobs []*domain.Job) error {
	return withTx(ctx, s.sqlDB, s.db, func(db store.DBTX) error {
		return insertJobs(ctx, db, jobs)
	})
}

// insertJobs validates every job, inserts them in order and bumps the
// owning batches' totals.
func insertJobs(ctx context.Context, db store.DBTX, jobs []*domain.Job) error {
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	totals := make(map[uuid.UUID]int)
	var order []uuid.UUID
	for _, j := range jobs {
		_, err := db.ExecContext(ctx, `
			INSERT INTO generation_jobs (
				id, batch_id, target_document_id, module_key, module_identifier, module_index,
				subsection_key, subsection_title, subsection_index, content_excerpt,
				generation_context, status, attempt_count, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			j.ID, j.BatchID, nullUUID(j.TargetDocumentID), j.ModuleKey, j.ModuleIdentifier, j.ModuleIndex,
			j.SubsectionKey, j.SubsectionTitle, j.SubsectionIndex, j.ContentExcerpt,
			jsonArg(j.GenerationContext), j.Status, j.AttemptCount, j.CreatedAt, j.UpdatedAt,
		)
		if err != nil {
			if IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", store.ErrBatchNotFound, j.BatchID)
			}
			if IsUniqueViolation(err) {
				return fmt.Errorf("%w: subsection %q of module %q",
					store.ErrDuplicate, j.SubsectionTitle, j.ModuleIdentifier)
			}
			return MapError(err)
		}
		if _, seen := totals[j.BatchID]; !seen {
			order = append(order, j.BatchID)
		}
		totals[j.BatchID]++
	}

	for _, batchID := range order {
		_, err := db.ExecContext(ctx,
			`UPDATE generation_batches SET total_jobs = total_jobs + $2 WHERE id = $1`,
			batchID, totals[batchID])
		if err != nil {
			return MapError(err)
		}
	}
	return nil
}

// GetBatch implements store.JobStore.GetBatch
func (s *PostgresJobStore) GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	var b domain.Batch
	var target uuid.NullUUID
	var cancelledAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, course_title, target_document_id, total_jobs, created_at, cancelled_at
		FROM generation_batches
		WHERE id = $1
	`, id).Scan(&b.ID, &b.CourseTitle, &target, &b.TotalJobs, &b.CreatedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBatchNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	b.TargetDocumentID = uuidPtr(target)
	b.CancelledAt = timePtr(cancelledAt)
	return &b, nil
}

// ListActiveBatches implements store.JobStore.ListActiveBatches
func (s *PostgresJobStore) ListActiveBatches(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id
		FROM generation_batches b
		WHERE b.cancelled_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM generation_jobs j
			WHERE j.batch_id = b.id AND j.status IN ('pending', 'processing')
		  )
		ORDER BY b.created_at, b.id
	`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan batch id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimNext implements store.JobStore.ClaimNext
// The oldest claimable job is locked with SKIP LOCKED and moved to
// processing in the same statement, so concurrent claimers never share a job.
func (s *PostgresJobStore) ClaimNext(ctx context.Context, batchID uuid.UUID, lease time.Duration) (*domain.Job, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE generation_jobs
		SET status = 'processing',
		    started_at = $2,
		    claim_token = $3,
		    lease_expires_at = $4,
		    updated_at = $2
		WHERE id = (
			SELECT c.id
			FROM generation_jobs c
			JOIN generation_batches b ON b.id = c.batch_id
			WHERE c.batch_id = $1
			  AND c.status = 'pending'
			  AND b.cancelled_at IS NULL
			  AND (c.retry_not_before IS NULL OR c.retry_not_before <= $2)
			ORDER BY c.created_at, c.seq
			LIMIT 1
			FOR UPDATE OF c SKIP LOCKED
		)
		RETURNING `+jobColumns,
		batchID, now, uuid.New(), now.Add(lease))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoJobAvailable
	}
	if err != nil {
		return nil, MapError(err)
	}
	return job, nil
}

// ExtendLease implements store.JobStore.ExtendLease
func (s *PostgresJobStore) ExtendLease(ctx context.Context, claim domain.Claim, lease time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND claim_token = $2 AND status = 'processing'
	`, claim.JobID, claim.Token, now.Add(lease), now)
	if err != nil {
		return MapError(err)
	}
	return s.checkClaim(ctx, res, claim)
}

// MarkCompleted implements store.JobStore.MarkCompleted
func (s *PostgresJobStore) MarkCompleted(ctx context.Context, claim domain.Claim, documentID uuid.UUID) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = 'completed',
		    completed_at = $4,
		    last_error = '',
		    target_document_id = $3,
		    lease_expires_at = NULL,
		    retry_not_before = NULL,
		    updated_at = $4
		WHERE id = $1 AND claim_token = $2 AND status = 'processing'
	`, claim.JobID, claim.Token, documentID, now)
	if err != nil {
		return MapError(err)
	}
	return s.checkClaim(ctx, res, claim)
}

// MarkFailedOrRequeue implements store.JobStore.MarkFailedOrRequeue
// The cancellation check reads the batch row in the same statement.
func (s *PostgresJobStore) MarkFailedOrRequeue(
	ctx context.Context,
	claim domain.Claim,
	errMsg string,
	outcome store.FailureOutcome,
) (domain.JobStatus, error) {
	now := s.now()
	var status domain.JobStatus
	err := s.db.QueryRowContext(ctx, `
		UPDATE generation_jobs j
		SET last_error = $3,
		    lease_expires_at = NULL,
		    claim_token = NULL,
		    updated_at = $4,
		    status = CASE WHEN $5::boolean AND b.cancelled_at IS NULL THEN 'pending' ELSE 'failed' END,
		    attempt_count = CASE WHEN $5::boolean AND NOT $7::boolean AND b.cancelled_at IS NULL
		        THEN j.attempt_count + 1 ELSE j.attempt_count END,
		    retry_not_before = CASE WHEN $5::boolean AND b.cancelled_at IS NULL
		        THEN $6::timestamptz ELSE NULL END,
		    completed_at = CASE WHEN $5::boolean AND b.cancelled_at IS NULL
		        THEN NULL ELSE $4 END
		FROM generation_batches b
		WHERE b.id = j.batch_id
		  AND j.id = $1 AND j.claim_token = $2 AND j.status = 'processing'
		RETURNING j.status
	`, claim.JobID, claim.Token, errMsg, now, outcome.Requeue, now.Add(outcome.RetryDelay),
		outcome.Uncharged).Scan(&status)

	if errors.Is(err, sql.ErrNoRows) {
		return "", s.claimMiss(ctx, claim)
	}
	if err != nil {
		return "", MapError(err)
	}
	return status, nil
}

// checkClaim turns a zero-row guarded update into ErrClaimLost or
// ErrJobNotFound.
func (s *PostgresJobStore) checkClaim(ctx context.Context, res sql.Result, claim domain.Claim) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return s.claimMiss(ctx, claim)
}

func (s *PostgresJobStore) claimMiss(ctx context.Context, claim domain.Claim) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM generation_jobs WHERE id = $1)`, claim.JobID).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrJobNotFound
	}
	logger.FromContextOrDefault(ctx, s.logger).Debug("guarded update missed",
		slog.String("job_id", claim.JobID.String()))
	return store.ErrClaimLost
}

// CountByStatus implements store.JobStore.CountByStatus
func (s *PostgresJobStore) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM generation_jobs
		WHERE batch_id = $1
		GROUP BY status
	`, batchID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// GetJob implements store.JobStore.GetJob
func (s *PostgresJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return job, nil
}

// ListJobs implements store.JobStore.ListJobs
func (s *PostgresJobStore) ListJobs(ctx context.Context, batchID uuid.UUID, status domain.JobStatus) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE batch_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at, seq
	`, batchID, string(status))
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequeueExpiredLeases implements store.JobStore.RequeueExpiredLeases
func (s *PostgresJobStore) RequeueExpiredLeases(
	ctx context.Context,
	budget int,
	delay store.RetryDelayFunc,
) (store.SweepResult, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE generation_jobs j
		SET last_error = 'lease expired',
		    lease_expires_at = NULL,
		    claim_token = NULL,
		    updated_at = $1,
		    status = CASE WHEN j.attempt_count < $2 AND b.cancelled_at IS NULL THEN 'pending' ELSE 'failed' END,
		    attempt_count = CASE WHEN j.attempt_count < $2 AND b.cancelled_at IS NULL
		        THEN j.attempt_count + 1 ELSE j.attempt_count END,
		    retry_not_before = CASE WHEN j.attempt_count < $2 AND b.cancelled_at IS NULL
		        THEN $1 + ($3::bigint[])[j.attempt_count + 1] * interval '1 millisecond' ELSE NULL END,
		    completed_at = CASE WHEN j.attempt_count < $2 AND b.cancelled_at IS NULL
		        THEN NULL ELSE $1 END
		FROM generation_batches b
		WHERE b.id = j.batch_id
		  AND j.id IN (
			SELECT id FROM generation_jobs
			WHERE status = 'processing' AND lease_expires_at <= $1
			FOR UPDATE SKIP LOCKED
		  )
		RETURNING j.status
	`, now, budget, delayArray(budget, delay))
	if err != nil {
		return store.SweepResult{}, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var res store.SweepResult
	for rows.Next() {
		var status domain.JobStatus
		if err := rows.Scan(&status); err != nil {
			return res, fmt.Errorf("failed to scan swept job: %w", err)
		}
		if status == domain.JobStatusPending {
			res.Requeued++
		} else {
			res.Failed++
		}
	}
	return res, rows.Err()
}

// CancelBatch implements store.JobStore.CancelBatch
func (s *PostgresJobStore) CancelBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	now := s.now()
	var cancelled int64

	err := withTx(ctx, s.sqlDB, s.db, func(db store.DBTX) error {
		res, err := db.ExecContext(ctx, `
			UPDATE generation_batches
			SET cancelled_at = COALESCE(cancelled_at, $2)
			WHERE id = $1
		`, batchID, now)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(res, "batch"); err != nil {
			return store.ErrBatchNotFound
		}

		res, err = db.ExecContext(ctx, `
			UPDATE generation_jobs
			SET status = 'failed',
			    last_error = $3,
			    retry_not_before = NULL,
			    completed_at = $2,
			    updated_at = $2
			WHERE batch_id = $1 AND status = 'pending'
		`, batchID, now, store.CancelledJobError)
		if err != nil {
			return MapError(err)
		}
		cancelled, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(cancelled), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j                            domain.Job
		target, claimToken           uuid.NullUUID
		generationContext            []byte
		retryNotBefore, leaseExpires sql.NullTime
		startedAt, completedAt       sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.BatchID, &j.Seq, &target, &j.ModuleKey, &j.ModuleIdentifier,
		&j.ModuleIndex, &j.SubsectionKey, &j.SubsectionTitle, &j.SubsectionIndex, &j.ContentExcerpt,
		&generationContext, &j.Status, &j.AttemptCount, &j.LastError, &retryNotBefore,
		&leaseExpires, &claimToken, &j.CreatedAt, &startedAt, &completedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.TargetDocumentID = uuidPtr(target)
	if len(generationContext) > 0 {
		j.GenerationContext = json.RawMessage(generationContext)
	}
	j.RetryNotBefore = timePtr(retryNotBefore)
	j.LeaseExpiresAt = timePtr(leaseExpires)
	if claimToken.Valid {
		j.ClaimToken = claimToken.UUID
	}
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	return &j, nil
}

// delayArray renders the backoff for requeues 1..budget as a bigint[]
// literal of milliseconds, indexed by the attempt number.
func delayArray(budget int, delay store.RetryDelayFunc) string {
	ms := make([]string, 0, budget)
	for attempt := 1; attempt <= budget; attempt++ {
		ms = append(ms, strconv.FormatInt(delay.Of(attempt).Milliseconds(), 10))
	}
	return "{" + strings.Join(ms, ",") + "}"
}
