package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

var jobColumnNames = []string{
	"id", "batch_id", "seq", "target_document_id", "module_key", "module_identifier",
	"module_index", "subsection_key", "subsection_title", "subsection_index", "content_excerpt",
	"generation_context", "status", "attempt_count", "last_error", "retry_not_before",
	"lease_expires_at", "claim_token", "created_at", "started_at", "completed_at", "updated_at",
}

func newMockJobStore(t *testing.T) (*PostgresJobStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresJobStore(db, nil, WithClock(func() time.Time { return fixedNow })), mock
}

func testJob(t *testing.T, batchID uuid.UUID, title string) *domain.Job {
	t.Helper()

	job, err := domain.NewJob(batchID, nil, domain.JobSpec{
		ModuleKey:        uuid.New(),
		ModuleIdentifier: "Fractions",
		SubsectionKey:    uuid.New(),
		SubsectionTitle:  title,
		ContentExcerpt:   "excerpt",
	})
	require.NoError(t, err)
	return job
}

// jobRow renders job as the row a RETURNING or SELECT of jobColumns yields.
func jobRow(job *domain.Job) *sqlmock.Rows {
	var claim, lease, started any
	if job.ClaimToken != uuid.Nil {
		claim = job.ClaimToken.String()
	}
	if job.LeaseExpiresAt != nil {
		lease = *job.LeaseExpiresAt
	}
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	return sqlmock.NewRows(jobColumnNames).AddRow(
		job.ID.String(), job.BatchID.String(), job.Seq, nil, job.ModuleKey.String(), job.ModuleIdentifier,
		job.ModuleIndex, job.SubsectionKey.String(), job.SubsectionTitle, job.SubsectionIndex, job.ContentExcerpt,
		[]byte(job.GenerationContext), string(job.Status), job.AttemptCount, job.LastError, nil,
		lease, claim, job.CreatedAt, started, nil, job.UpdatedAt,
	)
}

func TestNewPostgresJobStore(t *testing.T) {
	assert.Panics(t, func() { NewPostgresJobStore(nil, nil) })

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresJobStore(db, nil)
	assert.NotNil(t, s.logger)
	assert.Equal(t, db, s.sqlDB)
}

func TestPostgresJobStore_CreateBatch(t *testing.T) {
	batch, err := domain.NewBatch("Math", nil)
	require.NoError(t, err)

	t.Run("batch and jobs in one transaction", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		jobs := []*domain.Job{testJob(t, batch.ID, "Intro"), testJob(t, batch.ID, "Operations")}

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO generation_batches`).
			WithArgs(batch.ID.String(), "Math", nil, batch.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		for _, j := range jobs {
			mock.ExpectExec(`INSERT INTO generation_jobs`).
				WithArgs(j.ID.String(), batch.ID.String(), nil, j.ModuleKey.String(), "Fractions", 0,
					j.SubsectionKey.String(), j.SubsectionTitle, 0, "excerpt",
					"{}", "pending", 0, j.CreatedAt, j.UpdatedAt).
				WillReturnResult(sqlmock.NewResult(0, 1))
		}
		mock.ExpectExec(`UPDATE generation_batches SET total_jobs = total_jobs \+ \$2`).
			WithArgs(batch.ID.String(), 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.CreateBatch(context.Background(), batch, jobs))
	})

	t.Run("duplicate subsection rolls back", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		jobs := []*domain.Job{testJob(t, batch.ID, "Intro")}

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO generation_batches`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO generation_jobs`).
			WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})
		mock.ExpectRollback()

		err := s.CreateBatch(context.Background(), batch, jobs)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("invalid job is rejected before any write", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		bad := testJob(t, batch.ID, "Intro")
		bad.SubsectionTitle = ""

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO generation_batches`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		err := s.CreateBatch(context.Background(), batch, []*domain.Job{bad})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("invalid batch", func(t *testing.T) {
		s, _ := newMockJobStore(t)
		err := s.CreateBatch(context.Background(), &domain.Batch{}, nil)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}

func TestPostgresJobStore_InsertManyUnknownBatch(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, uuid.New(), "Intro")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO generation_jobs`).
		WillReturnError(&pgconn.PgError{Code: foreignKeyViolationCode})
	mock.ExpectRollback()

	err := s.InsertMany(context.Background(), []*domain.Job{job})
	assert.ErrorIs(t, err, store.ErrBatchNotFound)
}

func TestPostgresJobStore_ClaimNext(t *testing.T) {
	batchID := uuid.New()

	t.Run("claims the returned row", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		job := testJob(t, batchID, "Intro")
		job.Seq = 1
		job.Status = domain.JobStatusProcessing
		job.ClaimToken = uuid.New()
		lease := fixedNow.Add(time.Minute)
		job.LeaseExpiresAt = &lease
		job.StartedAt = &fixedNow

		mock.ExpectQuery(`FOR UPDATE OF c SKIP LOCKED`).
			WithArgs(batchID.String(), fixedNow, sqlmock.AnyArg(), lease).
			WillReturnRows(jobRow(job))

		got, err := s.ClaimNext(context.Background(), batchID, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, domain.JobStatusProcessing, got.Status)
		assert.Equal(t, job.ClaimToken, got.ClaimToken)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.Equal(t, lease, *got.LeaseExpiresAt)
		assert.Nil(t, got.TargetDocumentID)
		assert.JSONEq(t, `{}`, string(got.GenerationContext))
	})

	t.Run("nothing claimable", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectQuery(`UPDATE generation_jobs`).WillReturnRows(sqlmock.NewRows(jobColumnNames))

		_, err := s.ClaimNext(context.Background(), batchID, time.Minute)
		assert.ErrorIs(t, err, store.ErrNoJobAvailable)
	})

	t.Run("driver error", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectQuery(`UPDATE generation_jobs`).WillReturnError(errors.New("connection reset"))

		_, err := s.ClaimNext(context.Background(), batchID, time.Minute)
		assert.EqualError(t, err, "connection reset")
	})
}

func TestPostgresJobStore_GuardedUpdates(t *testing.T) {
	claim := domain.Claim{JobID: uuid.New(), Token: uuid.New()}
	docID := uuid.New()

	t.Run("mark completed", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(`SET status = 'completed'`).
			WithArgs(claim.JobID.String(), claim.Token.String(), docID.String(), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.MarkCompleted(context.Background(), claim, docID))
	})

	t.Run("stale token loses the claim", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(`SET status = 'completed'`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(claim.JobID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, s.MarkCompleted(context.Background(), claim, docID), store.ErrClaimLost)
	})

	t.Run("unknown job", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(`SET lease_expires_at = \$3`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorIs(t, s.ExtendLease(context.Background(), claim, time.Minute), store.ErrJobNotFound)
	})

	t.Run("extend lease", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(`SET lease_expires_at = \$3`).
			WithArgs(claim.JobID.String(), claim.Token.String(), fixedNow.Add(time.Minute), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.ExtendLease(context.Background(), claim, time.Minute))
	})
}

func TestPostgresJobStore_MarkFailedOrRequeue(t *testing.T) {
	claim := domain.Claim{JobID: uuid.New(), Token: uuid.New()}
	outcome := store.FailureOutcome{Requeue: true, RetryDelay: 5 * time.Second}

	t.Run("returns the resulting status", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectQuery(`UPDATE generation_jobs j`).
			WithArgs(claim.JobID.String(), claim.Token.String(), "boom", fixedNow, true, fixedNow.Add(5*time.Second), false).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

		status, err := s.MarkFailedOrRequeue(context.Background(), claim, "boom", outcome)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, status)
	})

	t.Run("uncharged release", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectQuery(`UPDATE generation_jobs j`).
			WithArgs(claim.JobID.String(), claim.Token.String(), "context canceled", fixedNow, true, fixedNow, true).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

		status, err := s.MarkFailedOrRequeue(context.Background(), claim, "context canceled",
			store.FailureOutcome{Requeue: true, Uncharged: true})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, status)
	})

	t.Run("claim lost", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectQuery(`UPDATE generation_jobs j`).WillReturnRows(sqlmock.NewRows([]string{"status"}))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := s.MarkFailedOrRequeue(context.Background(), claim, "boom", outcome)
		assert.ErrorIs(t, err, store.ErrClaimLost)
	})
}

func TestPostgresJobStore_CountByStatus(t *testing.T) {
	s, mock := newMockJobStore(t)
	batchID := uuid.New()

	mock.ExpectQuery(`GROUP BY status`).
		WithArgs(batchID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 2).
			AddRow("completed", 5).
			AddRow("failed", 1))

	counts, err := s.CountByStatus(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, map[domain.JobStatus]int{
		domain.JobStatusPending:   2,
		domain.JobStatusCompleted: 5,
		domain.JobStatusFailed:    1,
	}, counts)
}

func TestPostgresJobStore_RequeueExpiredLeases(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectQuery(`lease_expires_at <= \$1`).
		WithArgs(fixedNow, 3, "{1000,2000,4000}").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).
			AddRow("pending").
			AddRow("failed").
			AddRow("pending"))

	backoff := func(attempt int) time.Duration { return time.Second << (attempt - 1) }
	res, err := s.RequeueExpiredLeases(context.Background(), 3, backoff)
	require.NoError(t, err)
	assert.Equal(t, store.SweepResult{Requeued: 2, Failed: 1}, res)
}

func TestDelayArray(t *testing.T) {
	assert.Equal(t, "{}", delayArray(0, nil))
	assert.Equal(t, "{0,0}", delayArray(2, nil))
	assert.Equal(t, "{5000,5000}", delayArray(2, func(int) time.Duration { return 5 * time.Second }))
}

func TestPostgresJobStore_CancelBatch(t *testing.T) {
	batchID := uuid.New()

	t.Run("fails pending jobs", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SET cancelled_at = COALESCE`).
			WithArgs(batchID.String(), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SET status = 'failed'`).
			WithArgs(batchID.String(), fixedNow, store.CancelledJobError).
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectCommit()

		n, err := s.CancelBatch(context.Background(), batchID)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("unknown batch", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SET cancelled_at = COALESCE`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := s.CancelBatch(context.Background(), batchID)
		assert.ErrorIs(t, err, store.ErrBatchNotFound)
	})
}

func TestPostgresJobStore_GetBatch(t *testing.T) {
	s, mock := newMockJobStore(t)
	batchID, target := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM generation_batches`).
		WithArgs(batchID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_title", "target_document_id", "total_jobs", "created_at", "cancelled_at"}).
			AddRow(batchID.String(), "Math", target.String(), 3, fixedNow, nil))

	b, err := s.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, "Math", b.CourseTitle)
	assert.Equal(t, 3, b.TotalJobs)
	require.NotNil(t, b.TargetDocumentID)
	assert.Equal(t, target, *b.TargetDocumentID)
	assert.False(t, b.IsCancelled())

	mock.ExpectQuery(`FROM generation_batches`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_title", "target_document_id", "total_jobs", "created_at", "cancelled_at"}))
	_, err = s.GetBatch(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrBatchNotFound)
}

func TestPostgresJobStore_ListJobs(t *testing.T) {
	s, mock := newMockJobStore(t)
	batchID := uuid.New()
	first, second := testJob(t, batchID, "Intro"), testJob(t, batchID, "Operations")

	rows := jobRow(first)
	rows.AddRow(
		second.ID.String(), batchID.String(), int64(2), nil, second.ModuleKey.String(), "Fractions",
		0, second.SubsectionKey.String(), "Operations", 1, "excerpt",
		[]byte(`{"level":"grade 4"}`), "failed", 3, "upstream 500", nil,
		nil, nil, fixedNow, nil, fixedNow, fixedNow,
	)
	mock.ExpectQuery(`ORDER BY created_at, seq`).
		WithArgs(batchID.String(), "").
		WillReturnRows(rows)

	jobs, err := s.ListJobs(context.Background(), batchID, "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "Intro", jobs[0].SubsectionTitle)
	assert.Equal(t, domain.JobStatusFailed, jobs[1].Status)
	assert.Equal(t, 3, jobs[1].AttemptCount)
	require.NotNil(t, jobs[1].CompletedAt)
	assert.Equal(t, uuid.Nil, jobs[1].ClaimToken)
}
