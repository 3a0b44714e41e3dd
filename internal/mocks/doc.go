// Package mocks provides hand-written test doubles shared across packages.
//
// Each double exposes function fields that override behaviour per test
// and falls back to a sensible default. Store stubs wrap a real store
// (usually platform/memory) so a test overrides only the call it needs to
// break:
//
//	jobs := &mocks.JobStoreStub{
//	    JobStore: memory.NewJobStore(),
//	    MarkCompletedFn: func(context.Context, domain.Claim, uuid.UUID) error {
//	        return errors.New("connection refused")
//	    },
//	}
package mocks
