// Package domain contains the core entities of the course generation queue:
// generation jobs and their batches, the course document that generated
// subsections are merged into, and the progress summary reported for a batch.
// It has no knowledge of storage or transport.
package domain
