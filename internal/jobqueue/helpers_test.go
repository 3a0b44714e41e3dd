package jobqueue_test

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/enumerate"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/jobqueue"
	"github.com/phrazzld/coursegen/internal/mocks"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/platform/memory"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/stretchr/testify/require"
)

// harness wires a worker to in-memory stores driven by a fake clock.
type harness struct {
	clock    *mocks.Clock
	jobs     *memory.JobStore
	docs     *memory.DocumentStore
	gen      *mocks.MockGenerator
	recorder *mocks.EventRecorder
	emitter  *events.InMemoryEventEmitter
	logs     *logger.TestLogBuffer
	log      *slog.Logger
	policy   jobqueue.RetryPolicy
	cfg      jobqueue.WorkerConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := mocks.NewClock()
	logs, log := logger.NewTestLogger()
	recorder := &mocks.EventRecorder{}
	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(recorder)

	return &harness{
		clock:    clock,
		jobs:     memory.NewJobStore(memory.WithClock(clock.Now)),
		docs:     memory.NewDocumentStore(memory.WithClock(clock.Now)),
		gen:      &mocks.MockGenerator{},
		recorder: recorder,
		emitter:  emitter,
		logs:     logs,
		log:      log,
		policy:   jobqueue.DefaultRetryPolicy(),
		cfg: jobqueue.WorkerConfig{
			Lease:             time.Minute,
			HeartbeatInterval: -1,
			GenerationTimeout: time.Second,
		},
	}
}

// worker builds a Worker over the harness stores, or over the given
// replacements when they are non-nil.
func (h *harness) worker(jobs store.JobStore, docs store.DocumentStore) *jobqueue.Worker {
	if jobs == nil {
		jobs = h.jobs
	}
	if docs == nil {
		docs = h.docs
	}
	return jobqueue.NewWorker(jobs, docs, h.gen, h.policy, h.cfg, h.emitter, h.log)
}

func (h *harness) service() *jobqueue.Service {
	return jobqueue.NewService(h.jobs, h.docs, h.worker(nil, nil), h.emitter, h.log)
}

// submit stores a batch with one module whose subsections are titles.
func (h *harness) submit(t *testing.T, module string, titles ...string) *enumerate.Result {
	t.Helper()
	return h.submitTo(t, nil, module, titles...)
}

func (h *harness) submitTo(t *testing.T, target *uuid.UUID, module string, titles ...string) *enumerate.Result {
	t.Helper()

	var sb strings.Builder
	for _, title := range titles {
		fmt.Fprintf(&sb, "## %s\nNotes about %s.\n\n", title, strings.ToLower(title))
	}
	e := enumerate.NewEnumerator(h.jobs, h.docs, h.emitter, h.log)
	res, err := e.Submit(context.Background(), enumerate.Submission{
		Course:           domain.CourseMetadata{Title: "Math", Level: "grade 4"},
		Modules:          []domain.ModuleInput{{Title: module, Content: sb.String()}},
		TargetDocumentID: target,
	})
	require.NoError(t, err)
	require.Equal(t, len(titles), res.TotalJobs)
	return res
}

func (h *harness) job(t *testing.T, batchID uuid.UUID, subsection string) *domain.Job {
	t.Helper()

	jobs, err := h.jobs.ListJobs(context.Background(), batchID, "")
	require.NoError(t, err)
	for _, j := range jobs {
		if j.SubsectionTitle == subsection {
			return j
		}
	}
	t.Fatalf("no job for subsection %q", subsection)
	return nil
}

func (h *harness) progress(t *testing.T, batchID uuid.UUID) domain.BatchProgress {
	t.Helper()

	p, err := jobqueue.NewProgress(h.jobs).Status(context.Background(), batchID)
	require.NoError(t, err)
	return p
}

// timeoutErr wraps context.DeadlineExceeded the way a backend call that ran
// out of time would.
func timeoutErr(subsection string) error {
	return fmt.Errorf("generate %s: %w", subsection, context.DeadlineExceeded)
}
