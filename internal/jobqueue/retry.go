package jobqueue

import (
	"fmt"
	"math"
	"time"

	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/store"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ConstantBackoff always waits the same interval.
type ConstantBackoff struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c ConstantBackoff) Delay(_ int) time.Duration {
	return c.Interval
}

// ExponentialBackoff doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	return time.Duration(d)
}

// DefaultRetryBudget and DefaultRetryDelay match the reference behaviour:
// three requeues, five seconds apart.
const (
	DefaultRetryBudget = 3
	DefaultRetryDelay  = 5 * time.Second
)

// RetryPolicy decides what happens to a job after a failed attempt.
type RetryPolicy struct {
	// Budget is the number of requeues allowed before a job fails.
	Budget  int
	Backoff Backoff
	// FailFastOnRejection fails a job immediately when the backend refuses
	// the content, without spending the rest of the budget.
	FailFastOnRejection bool
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Budget:  DefaultRetryBudget,
		Backoff: ConstantBackoff{Interval: DefaultRetryDelay},
	}
}

// RetryPolicyFromConfig builds a policy from queue settings.
func RetryPolicyFromConfig(cfg config.QueueConfig) (RetryPolicy, error) {
	var b Backoff
	switch cfg.Backoff {
	case "", "constant":
		b = ConstantBackoff{Interval: cfg.RetryDelay()}
	case "exponential":
		b = ExponentialBackoff{Initial: cfg.RetryDelay(), Max: cfg.MaxRetryDelay()}
	default:
		return RetryPolicy{}, fmt.Errorf("unknown backoff strategy %q", cfg.Backoff)
	}
	return RetryPolicy{
		Budget:              cfg.RetryBudget,
		Backoff:             b,
		FailFastOnRejection: cfg.FailFastOnRejection,
	}, nil
}

// Decide returns the failure outcome for job after cause. The job's
// AttemptCount is the number of requeues it has already had.
func (p RetryPolicy) Decide(job *domain.Job, cause error) store.FailureOutcome {
	if p.FailFastOnRejection && generation.IsRejection(cause) {
		return store.FailureOutcome{}
	}
	if job.AttemptCount >= p.Budget {
		return store.FailureOutcome{}
	}
	return store.FailureOutcome{Requeue: true, RetryDelay: p.RetryDelay(job.AttemptCount + 1)}
}

// RetryDelay is the backoff before the given requeue (1-based). The lease
// sweeper uses it too, so swept jobs escalate like failed ones.
func (p RetryPolicy) RetryDelay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Delay(attempt)
}
