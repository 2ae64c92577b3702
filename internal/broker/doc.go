// Package broker defines the contract between queues/workers and the durable
// store that coordinates job persistence and exclusive claims.
//
// Two backends implement the contract: an embedded Pebble store
// (broker/pebble) for single-process deployments, and Redis (broker/redis)
// when producers and workers live in separate processes. All claim, ack, and
// retry decisions are atomic at the broker; in-process code only limits its
// own concurrency.
//
// Manager owns the single shared broker handle per process: it dials lazily
// on first Acquire, hands the same instance to every caller after that, and
// tears it down exactly once on Release.
package broker
