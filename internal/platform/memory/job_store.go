package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/store"
)

// JobStore is an in-memory store.JobStore.
type JobStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*domain.Batch
	jobs    map[uuid.UUID]*domain.Job
	order   []uuid.UUID
	seq     int64
	now     func() time.Time
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates an empty JobStore.
func NewJobStore(opts ...Option) *JobStore {
	o := buildOptions(opts)
	return &JobStore{
		batches: make(map[uuid.UUID]*domain.Batch),
		jobs:    make(map[uuid.UUID]*domain.Job),
		now:     o.now,
	}
}

// CreateBatch implements store.JobStore.
func (s *JobStore) CreateBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batch.ID]; ok {
		return fmt.Errorf("%w: batch %s", store.ErrDuplicate, batch.ID)
	}
	b := *batch
	b.TotalJobs = 0
	s.batches[batch.ID] = &b

	if err := s.insertLocked(jobs); err != nil {
		delete(s.batches, batch.ID)
		return err
	}
	return nil
}

// InsertMany implements store.JobStore.
func (s *JobStore) InsertMany(ctx context.Context, jobs []*domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(jobs)
}

// insertLocked validates every job before storing any of them.
func (s *JobStore) insertLocked(jobs []*domain.Job) error {
	type pair struct{ module, subsection uuid.UUID }
	taken := make(map[uuid.UUID]map[pair]bool)
	pairsOf := func(batchID uuid.UUID) map[pair]bool {
		if m, ok := taken[batchID]; ok {
			return m
		}
		m := make(map[pair]bool)
		for _, id := range s.order {
			j := s.jobs[id]
			if j.BatchID == batchID {
				m[pair{j.ModuleKey, j.SubsectionKey}] = true
			}
		}
		taken[batchID] = m
		return m
	}

	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		if _, ok := s.batches[j.BatchID]; !ok {
			return store.ErrBatchNotFound
		}
		if _, ok := s.jobs[j.ID]; ok {
			return fmt.Errorf("%w: job %s", store.ErrDuplicate, j.ID)
		}
		pairs := pairsOf(j.BatchID)
		p := pair{j.ModuleKey, j.SubsectionKey}
		if pairs[p] {
			return fmt.Errorf("%w: subsection %q of module %q", store.ErrDuplicate,
				j.SubsectionTitle, j.ModuleIdentifier)
		}
		pairs[p] = true
	}

	for _, j := range jobs {
		s.seq++
		c := cloneJob(j)
		c.Seq = s.seq
		s.jobs[c.ID] = c
		s.order = append(s.order, c.ID)
		s.batches[c.BatchID].TotalJobs++
	}
	return nil
}

// GetBatch implements store.JobStore.
func (s *JobStore) GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	c := *b
	return &c, nil
}

// ListActiveBatches implements store.JobStore.
func (s *JobStore) ListActiveBatches(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[uuid.UUID]bool)
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status.IsTerminal() || s.batches[j.BatchID].IsCancelled() {
			continue
		}
		active[j.BatchID] = true
	}

	out := make([]uuid.UUID, 0, len(active))
	for id := range active {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.batches[out[i]].CreatedAt.Before(s.batches[out[j]].CreatedAt)
	})
	return out, nil
}

// ClaimNext implements store.JobStore.
func (s *JobStore) ClaimNext(ctx context.Context, batchID uuid.UUID, lease time.Duration) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok || b.IsCancelled() {
		return nil, store.ErrNoJobAvailable
	}

	now := s.now()
	var next *domain.Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.BatchID != batchID || j.Status != domain.JobStatusPending {
			continue
		}
		if j.RetryNotBefore != nil && j.RetryNotBefore.After(now) {
			continue
		}
		if next == nil || j.CreatedAt.Before(next.CreatedAt) ||
			(j.CreatedAt.Equal(next.CreatedAt) && j.Seq < next.Seq) {
			next = j
		}
	}
	if next == nil {
		return nil, store.ErrNoJobAvailable
	}

	next.Status = domain.JobStatusProcessing
	next.StartedAt = timePtr(now)
	next.ClaimToken = uuid.New()
	next.LeaseExpiresAt = timePtr(now.Add(lease))
	next.UpdatedAt = now
	return cloneJob(next), nil
}

// held returns the job if claim still owns it.
func (s *JobStore) held(claim domain.Claim) (*domain.Job, error) {
	j, ok := s.jobs[claim.JobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	if j.Status != domain.JobStatusProcessing || j.ClaimToken != claim.Token {
		return nil, store.ErrClaimLost
	}
	return j, nil
}

// ExtendLease implements store.JobStore.
func (s *JobStore) ExtendLease(ctx context.Context, claim domain.Claim, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.held(claim)
	if err != nil {
		return err
	}
	now := s.now()
	j.LeaseExpiresAt = timePtr(now.Add(lease))
	j.UpdatedAt = now
	return nil
}

// MarkCompleted implements store.JobStore.
func (s *JobStore) MarkCompleted(ctx context.Context, claim domain.Claim, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.held(claim)
	if err != nil {
		return err
	}
	now := s.now()
	j.Status = domain.JobStatusCompleted
	j.CompletedAt = timePtr(now)
	j.LastError = ""
	j.TargetDocumentID = &documentID
	j.LeaseExpiresAt = nil
	j.RetryNotBefore = nil
	j.UpdatedAt = now
	return nil
}

// MarkFailedOrRequeue implements store.JobStore.
func (s *JobStore) MarkFailedOrRequeue(
	ctx context.Context,
	claim domain.Claim,
	errMsg string,
	outcome store.FailureOutcome,
) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.held(claim)
	if err != nil {
		return "", err
	}
	s.finishFailureLocked(j, errMsg, outcome)
	return j.Status, nil
}

func (s *JobStore) finishFailureLocked(j *domain.Job, errMsg string, outcome store.FailureOutcome) {
	now := s.now()
	j.LastError = errMsg
	j.LeaseExpiresAt = nil
	j.ClaimToken = uuid.Nil
	j.UpdatedAt = now

	if outcome.Requeue && !s.batches[j.BatchID].IsCancelled() {
		j.Status = domain.JobStatusPending
		if !outcome.Uncharged {
			j.AttemptCount++
		}
		j.RetryNotBefore = timePtr(now.Add(outcome.RetryDelay))
		return
	}
	j.Status = domain.JobStatusFailed
	j.RetryNotBefore = nil
	j.CompletedAt = timePtr(now)
}

// CountByStatus implements store.JobStore.
func (s *JobStore) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.JobStatus]int)
	for _, id := range s.order {
		if j := s.jobs[id]; j.BatchID == batchID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

// GetJob implements store.JobStore.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// ListJobs implements store.JobStore.
func (s *JobStore) ListJobs(ctx context.Context, batchID uuid.UUID, status domain.JobStatus) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.BatchID != batchID || (status != "" && j.Status != status) {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return out, nil
}

// RequeueExpiredLeases implements store.JobStore.
func (s *JobStore) RequeueExpiredLeases(
	ctx context.Context,
	budget int,
	delay store.RetryDelayFunc,
) (store.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.SweepResult
	now := s.now()
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != domain.JobStatusProcessing || j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		s.finishFailureLocked(j, "lease expired", store.FailureOutcome{
			Requeue:    j.AttemptCount < budget,
			RetryDelay: delay.Of(j.AttemptCount + 1),
		})
		if j.Status == domain.JobStatusPending {
			res.Requeued++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// CancelBatch implements store.JobStore.
func (s *JobStore) CancelBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return 0, store.ErrBatchNotFound
	}
	now := s.now()
	if b.CancelledAt == nil {
		b.CancelledAt = timePtr(now)
	}

	cancelled := 0
	for _, id := range s.order {
		j := s.jobs[id]
		if j.BatchID != batchID || j.Status != domain.JobStatusPending {
			continue
		}
		j.Status = domain.JobStatusFailed
		j.LastError = store.CancelledJobError
		j.RetryNotBefore = nil
		j.CompletedAt = timePtr(now)
		j.UpdatedAt = now
		cancelled++
	}
	return cancelled, nil
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	if j.GenerationContext != nil {
		c.GenerationContext = append(json.RawMessage(nil), j.GenerationContext...)
	}
	c.TargetDocumentID = cloneUUID(j.TargetDocumentID)
	c.RetryNotBefore = cloneTime(j.RetryNotBefore)
	c.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
