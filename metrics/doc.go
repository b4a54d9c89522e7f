// Package metrics exposes Prometheus collectors for job outcomes and the
// environment cache, and serves them over HTTP.
package metrics
