// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It is the HTTP face of the job queue: batch
// submission, the single-step processing trigger, progress, cancellation
// and merged documents.
package api
