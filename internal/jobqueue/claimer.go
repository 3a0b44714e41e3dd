package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/store"
)

// DefaultLease is how long a claim stays valid without a heartbeat.
const DefaultLease = 2 * time.Minute

// Claimer hands out jobs under a lease. Two concurrent claims never return
// the same job; the store guarantees that.
type Claimer struct {
	jobs  store.JobStore
	lease time.Duration
}

// NewClaimer creates a Claimer. A non-positive lease selects DefaultLease.
func NewClaimer(jobs store.JobStore, lease time.Duration) *Claimer {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Claimer{jobs: jobs, lease: lease}
}

// Lease returns the lease duration granted by each claim.
func (c *Claimer) Lease() time.Duration {
	return c.lease
}

// ClaimNext claims the oldest pending job of the batch whose backoff has
// elapsed. It returns store.ErrNoJobAvailable when there is none.
func (c *Claimer) ClaimNext(ctx context.Context, batchID uuid.UUID) (*domain.Job, error) {
	return c.jobs.ClaimNext(ctx, batchID, c.lease)
}

// Renew extends the lease of a held claim.
func (c *Claimer) Renew(ctx context.Context, claim domain.Claim) error {
	return c.jobs.ExtendLease(ctx, claim, c.lease)
}
