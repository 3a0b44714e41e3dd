// Package store defines the persistence contracts of the job queue: the job
// store with its atomic claim, and the document store the merge writer
// updates. Implementations live under internal/platform.
package store
