// Package events carries job and batch lifecycle notifications from the
// queue to interested observers (metrics, external progress channels)
// without the queue knowing who listens.
package events
