// Package cli implements coursegenctl, the operator command line for the
// course generation queue. Commands run against the same stores and
// configuration as the server.
package cli
