// Package postgres provides PostgreSQL implementations of the job and
// document stores defined in internal/store, together with the embedded
// schema migrations they run against.
//
// Claims use FOR UPDATE SKIP LOCKED so any number of workers, in any
// number of processes, can pull from the same table. Every update after
// a claim is guarded by the job's claim token.
package postgres
