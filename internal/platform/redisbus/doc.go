// Package redisbus publishes queue lifecycle events to a Redis pub/sub
// channel so that progress UIs running in other processes can follow a
// batch without polling the job store.
package redisbus
