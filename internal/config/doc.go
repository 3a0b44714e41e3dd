// Package config loads coursegen settings from an optional YAML file and
// COURSEGEN_-prefixed environment variables, then validates them before any
// store, worker or HTTP listener is built.
package config
