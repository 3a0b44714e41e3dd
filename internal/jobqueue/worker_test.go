package jobqueue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/jobqueue"
	"github.com/phrazzld/coursegen/internal/mocks"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorker_FractionsScenario walks one module through the whole retry
// cycle: one subsection succeeds at once, one after two timeouts and one
// exhausts the retry budget.
func TestWorker_FractionsScenario(t *testing.T) {
	h := newHarness(t)
	h.gen.Script = map[string][]error{
		"Operations":    {timeoutErr("Operations"), timeoutErr("Operations")},
		"Word Problems": {errors.New("upstream 500"), errors.New("upstream 500"), errors.New("upstream 500"), errors.New("upstream 500")},
	}
	res := h.submit(t, "Fractions", "Intro", "Operations", "Word Problems")
	w := h.worker(nil, nil)
	ctx := context.Background()

	step := func(wantSubsection string, wantStatus domain.JobStatus, wantAttempt int) {
		t.Helper()
		out, err := w.ProcessOne(ctx, res.BatchID)
		require.NoError(t, err)
		require.True(t, out.Processed)
		require.NotNil(t, out.JobID)
		assert.Equal(t, h.job(t, res.BatchID, wantSubsection).ID, *out.JobID, "expected %s", wantSubsection)
		assert.Equal(t, wantStatus, out.Status)
		assert.Equal(t, wantAttempt, out.Attempt)
	}
	idle := func() {
		t.Helper()
		out, err := w.ProcessOne(ctx, res.BatchID)
		require.NoError(t, err)
		require.False(t, out.Processed)
	}

	step("Intro", domain.JobStatusCompleted, 0)
	step("Operations", domain.JobStatusPending, 1)
	step("Word Problems", domain.JobStatusPending, 1)
	idle() // both are waiting out the retry delay

	h.clock.Advance(jobqueue.DefaultRetryDelay)
	step("Operations", domain.JobStatusPending, 2)
	step("Word Problems", domain.JobStatusPending, 2)

	h.clock.Advance(jobqueue.DefaultRetryDelay)
	step("Operations", domain.JobStatusCompleted, 2)
	step("Word Problems", domain.JobStatusPending, 3)

	h.clock.Advance(jobqueue.DefaultRetryDelay)
	step("Word Problems", domain.JobStatusFailed, 3)
	idle()

	progress := h.progress(t, res.BatchID)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
	assert.True(t, progress.Done())

	assert.Equal(t, 1, h.gen.CallsFor("Intro"))
	assert.Equal(t, 3, h.gen.CallsFor("Operations"))
	assert.Equal(t, 4, h.gen.CallsFor("Word Problems"))

	failed := h.job(t, res.BatchID, "Word Problems")
	assert.Equal(t, 3, failed.AttemptCount)
	assert.Contains(t, failed.LastError, "upstream 500")
	assert.NotNil(t, failed.CompletedAt)

	ops := h.job(t, res.BatchID, "Operations")
	assert.Empty(t, ops.LastError, "completion clears the last error")
	require.NotNil(t, ops.TargetDocumentID)

	doc, err := h.docs.GetDocument(ctx, *ops.TargetDocumentID)
	require.NoError(t, err)
	require.Len(t, doc.Modules, 1)
	results := doc.Modules[0].OrderedResults()
	require.Len(t, results, 2)
	assert.Equal(t, "Intro", results[0].Title)
	assert.Equal(t, "Operations", results[1].Title)

	assert.Len(t, h.recorder.OfType(events.JobCompleted), 2)
	assert.Len(t, h.recorder.OfType(events.JobRequeued), 5)
	assert.Len(t, h.recorder.OfType(events.JobFailed), 1)
	assert.Len(t, h.recorder.OfType(events.JobClaimed), 8)
}

func TestWorker_ConcurrentCallersProcessEachJobOnce(t *testing.T) {
	h := newHarness(t)
	titles := make([]string, 30)
	for i := range titles {
		titles[i] = fmt.Sprintf("Part %02d", i+1)
	}
	res := h.submit(t, "Decimals", titles...)
	w := h.worker(nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				out, err := w.ProcessOne(context.Background(), res.BatchID)
				if err != nil {
					errs <- err
					return
				}
				if !out.Processed {
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, title := range titles {
		assert.Equal(t, 1, h.gen.CallsFor(title), "subsection %s", title)
	}
	progress := h.progress(t, res.BatchID)
	assert.Equal(t, 30, progress.Completed)

	job := h.job(t, res.BatchID, "Part 01")
	doc, err := h.docs.GetDocument(context.Background(), *job.TargetDocumentID)
	require.NoError(t, err)
	require.Len(t, doc.Modules, 1)
	assert.Len(t, doc.Modules[0].Results, 30)
}

func TestWorker_ProcessOneOnEmptyBatch(t *testing.T) {
	h := newHarness(t)
	w := h.worker(nil, nil)

	out, err := w.ProcessOne(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, out.Processed)
	assert.Nil(t, out.JobID)
	assert.Zero(t, h.gen.Calls())
}

func TestWorker_JobFailures(t *testing.T) {
	t.Run("generation timeout is retried", func(t *testing.T) {
		h := newHarness(t)
		h.cfg.GenerationTimeout = 20 * time.Millisecond
		h.gen.GenerateFn = func(ctx context.Context, _ generation.Request) (*domain.GeneratedContent, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		res := h.submit(t, "Fractions", "Intro")

		out, err := h.worker(nil, nil).ProcessOne(context.Background(), res.BatchID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, out.Status)
		assert.Contains(t, out.Error, "deadline exceeded")

		job := h.job(t, res.BatchID, "Intro")
		assert.Equal(t, 1, job.AttemptCount)
		require.NotNil(t, job.RetryNotBefore)
		assert.Equal(t, h.clock.Now().Add(jobqueue.DefaultRetryDelay), *job.RetryNotBefore)

		entries := h.logs.EntriesWithMessage("job failed, requeued")
		require.Len(t, entries, 1)
		assert.Equal(t, true, entries[0]["transient"])
	})

	t.Run("invalid content is retried", func(t *testing.T) {
		h := newHarness(t)
		h.gen.Content = &domain.GeneratedContent{Title: "Intro"}
		res := h.submit(t, "Fractions", "Intro")

		out, err := h.worker(nil, nil).ProcessOne(context.Background(), res.BatchID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, out.Status)
		assert.Contains(t, out.Error, generation.ErrInvalidResponse.Error())

		entries := h.logs.EntriesWithMessage("job failed, requeued")
		require.Len(t, entries, 1)
		assert.Equal(t, false, entries[0]["transient"])
	})

	t.Run("panic is recorded as a failure", func(t *testing.T) {
		h := newHarness(t)
		h.gen.GenerateFn = func(context.Context, generation.Request) (*domain.GeneratedContent, error) {
			panic("template exploded")
		}
		res := h.submit(t, "Fractions", "Intro")

		out, err := h.worker(nil, nil).ProcessOne(context.Background(), res.BatchID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, out.Status)
		assert.Contains(t, out.Error, "template exploded")
		assert.NotEmpty(t, h.logs.EntriesWithMessage("job panicked"))
	})

	t.Run("caller cancellation releases the job uncharged", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "Fractions", "Intro")
		w := h.worker(nil, nil)

		// More interruptions than the retry budget allows failures.
		for i := 0; i < jobqueue.DefaultRetryBudget+2; i++ {
			ctx, cancel := context.WithCancel(context.Background())
			h.gen.GenerateFn = func(gctx context.Context, _ generation.Request) (*domain.GeneratedContent, error) {
				cancel()
				<-gctx.Done()
				return nil, gctx.Err()
			}

			out, err := w.ProcessOne(ctx, res.BatchID)
			require.NoError(t, err)
			require.True(t, out.Processed, "round %d", i)
			assert.Equal(t, domain.JobStatusPending, out.Status)
			assert.Zero(t, out.Attempt)
		}

		job := h.job(t, res.BatchID, "Intro")
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Zero(t, job.AttemptCount)
		assert.Equal(t, "interrupted: context canceled", job.LastError)
		require.NotNil(t, job.RetryNotBefore)
		assert.Equal(t, h.clock.Now(), *job.RetryNotBefore, "claimable again at once")
		assert.Len(t, h.recorder.OfType(events.JobRequeued), jobqueue.DefaultRetryBudget+2)
		assert.Empty(t, h.recorder.OfType(events.JobFailed))

		h.gen.GenerateFn = nil
		out, err := w.ProcessOne(context.Background(), res.BatchID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, out.Status)
	})

	t.Run("caller cancellation in a cancelled batch fails the job", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "Fractions", "Intro")
		ctx, cancel := context.WithCancel(context.Background())
		h.gen.GenerateFn = func(gctx context.Context, _ generation.Request) (*domain.GeneratedContent, error) {
			_, err := h.jobs.CancelBatch(context.Background(), res.BatchID)
			require.NoError(t, err)
			cancel()
			return nil, gctx.Err()
		}

		out, err := h.worker(nil, nil).ProcessOne(ctx, res.BatchID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, out.Status)
		assert.Zero(t, h.job(t, res.BatchID, "Intro").AttemptCount)
	})

	t.Run("last error is redacted", func(t *testing.T) {
		h := newHarness(t)
		h.policy.Budget = 0
		h.gen.Err = errors.New("dial postgres://app:hunter2@db:5432/course failed")
		res := h.submit(t, "Fractions", "Intro")

		out, err := h.worker(nil, nil).ProcessOne(context.Background(), res.BatchID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, out.Status)

		job := h.job(t, res.BatchID, "Intro")
		assert.NotContains(t, job.LastError, "hunter2")
	})
}

func TestWorker_RejectionPolicy(t *testing.T) {
	tests := []struct {
		name       string
		failFast   bool
		wantStatus domain.JobStatus
	}{
		{name: "retried by default", failFast: false, wantStatus: domain.JobStatusPending},
		{name: "failed at once when fail fast", failFast: true, wantStatus: domain.JobStatusFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.gen = mocks.MockGeneratorWithContentBlocked()
			h.policy.FailFastOnRejection = tc.failFast
			res := h.submit(t, "Fractions", "Intro")

			out, err := h.worker(nil, nil).ProcessOne(context.Background(), res.BatchID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, out.Status)
		})
	}
}

func TestWorker_ClaimLostDuringHeartbeat(t *testing.T) {
	h := newHarness(t)
	h.cfg.HeartbeatInterval = 10 * time.Millisecond
	h.cfg.GenerationTimeout = 5 * time.Second
	h.gen.GenerateFn = func(ctx context.Context, _ generation.Request) (*domain.GeneratedContent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	res := h.submit(t, "Fractions", "Intro")

	var recorded bool
	jobs := &mocks.JobStoreStub{
		JobStore: h.jobs,
		ExtendLeaseFn: func(context.Context, domain.Claim, time.Duration) error {
			return store.ErrClaimLost
		},
		MarkFailedOrRequeueFn: func(context.Context, domain.Claim, string, store.FailureOutcome) (domain.JobStatus, error) {
			recorded = true
			return domain.JobStatusPending, nil
		},
	}

	out, err := h.worker(jobs, nil).ProcessOne(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.True(t, out.Processed)
	assert.Empty(t, out.Status, "a lost claim leaves the job to its new owner")
	assert.Contains(t, out.Error, store.ErrClaimLost.Error())
	assert.False(t, recorded)
	assert.Equal(t, domain.JobStatusProcessing, h.job(t, res.BatchID, "Intro").Status)
}

func TestWorker_HeartbeatKeepsLease(t *testing.T) {
	h := newHarness(t)
	h.cfg.HeartbeatInterval = 5 * time.Millisecond

	var renewals int
	var mu sync.Mutex
	jobs := &mocks.JobStoreStub{JobStore: h.jobs}
	jobs.ExtendLeaseFn = func(ctx context.Context, claim domain.Claim, lease time.Duration) error {
		mu.Lock()
		renewals++
		mu.Unlock()
		return h.jobs.ExtendLease(ctx, claim, lease)
	}
	h.gen.GenerateFn = func(context.Context, generation.Request) (*domain.GeneratedContent, error) {
		time.Sleep(40 * time.Millisecond)
		return mocks.DefaultContent("Intro"), nil
	}
	res := h.submit(t, "Fractions", "Intro")

	out, err := h.worker(jobs, nil).ProcessOne(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, out.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, renewals)
}

func TestWorker_StoreFailures(t *testing.T) {
	unavailable := errors.New("connection refused")

	t.Run("claim", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "Fractions", "Intro")
		jobs := &mocks.JobStoreStub{
			JobStore: h.jobs,
			ClaimNextFn: func(context.Context, uuid.UUID, time.Duration) (*domain.Job, error) {
				return nil, unavailable
			},
		}

		out, err := h.worker(jobs, nil).ProcessOne(context.Background(), res.BatchID)
		require.ErrorIs(t, err, jobqueue.ErrStoreUnavailable)
		assert.False(t, out.Processed)
		assert.Zero(t, h.gen.Calls())
	})

	t.Run("mark completed", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "Fractions", "Intro")
		jobs := &mocks.JobStoreStub{
			JobStore: h.jobs,
			MarkCompletedFn: func(context.Context, domain.Claim, uuid.UUID) error {
				return unavailable
			},
		}

		out, err := h.worker(jobs, nil).ProcessOne(context.Background(), res.BatchID)
		require.ErrorIs(t, err, jobqueue.ErrStoreUnavailable)
		assert.True(t, out.Processed)
		assert.Equal(t, domain.JobStatusProcessing, h.job(t, res.BatchID, "Intro").Status,
			"the lease sweeper recovers the job")
	})

	t.Run("merge write is recorded then surfaced", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "Fractions", "Intro")
		docs := &mocks.DocumentStoreStub{
			DocumentStore: h.docs,
			MergeSubsectionFn: func(context.Context, store.MergeTarget, domain.SubsectionResult) error {
				return unavailable
			},
		}

		out, err := h.worker(nil, docs).ProcessOne(context.Background(), res.BatchID)
		require.ErrorIs(t, err, jobqueue.ErrStoreUnavailable)
		assert.Equal(t, domain.JobStatusPending, out.Status)

		job := h.job(t, res.BatchID, "Intro")
		assert.Equal(t, 1, job.AttemptCount)
		assert.Contains(t, job.LastError, "connection refused")
	})

	t.Run("record failure", func(t *testing.T) {
		h := newHarness(t)
		h.gen.Err = errors.New("upstream 500")
		res := h.submit(t, "Fractions", "Intro")
		jobs := &mocks.JobStoreStub{
			JobStore: h.jobs,
			MarkFailedOrRequeueFn: func(context.Context, domain.Claim, string, store.FailureOutcome) (domain.JobStatus, error) {
				return "", unavailable
			},
		}

		_, err := h.worker(jobs, nil).ProcessOne(context.Background(), res.BatchID)
		require.ErrorIs(t, err, jobqueue.ErrStoreUnavailable)
	})
}

func TestWorker_MissingMergeTargetIsAJobFailure(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "Fractions", "Intro")
	docs := &mocks.DocumentStoreStub{
		DocumentStore: h.docs,
		MergeSubsectionFn: func(context.Context, store.MergeTarget, domain.SubsectionResult) error {
			return store.ErrModuleNotFound
		},
	}

	out, err := h.worker(nil, docs).ProcessOne(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, out.Status)
	assert.Contains(t, out.Error, "module")
}
