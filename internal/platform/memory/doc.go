// Package memory provides process-local implementations of the job and
// document stores with the same semantics as the PostgreSQL ones. A single
// mutex per store plays the role of the database's row locks. They back
// the unit tests and single-process local runs; state does not survive a
// restart.
package memory
