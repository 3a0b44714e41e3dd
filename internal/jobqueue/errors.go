package jobqueue

import "errors"

// ErrStoreUnavailable wraps persistence failures that stop ProcessOne.
// Per-job failures are never reported through it.
var ErrStoreUnavailable = errors.New("job store unavailable")

// ErrNoWorker is returned by Service.ProcessOne when the service was built
// without a worker, as read-only tools do.
var ErrNoWorker = errors.New("no worker configured")
