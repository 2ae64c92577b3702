// Package httpserver exposes forq's HTTP surface: the enqueue endpoint for
// producers, the read-only monitoring API backing the dashboard and CLI, a
// health probe, and the Prometheus scrape endpoint.
package httpserver
