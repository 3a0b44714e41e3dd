// Package jobqueue runs content-generation jobs.
//
// A Claimer takes the oldest claimable job of a batch under a lease. The
// Worker generates the subsection, hands the result to the MergeWriter and
// records the outcome, applying the RetryPolicy on failure. ProcessOne is
// the single-step entry point used by external triggers; Pool runs many
// workers until a context ends or a batch drains, and Sweeper requeues jobs
// whose lease ran out because their worker died.
package jobqueue
