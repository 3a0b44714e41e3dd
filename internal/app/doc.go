// Package app assembles the queue from configuration: stores, generation
// backend, event fan-out, worker pool and auth. The server and the
// operator CLI share it so both run the same wiring.
package app
