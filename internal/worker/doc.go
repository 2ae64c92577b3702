// Package worker runs claimed jobs through registered handlers.
//
// A Pool serves one queue: it polls the broker for claims up to its
// concurrency budget, renews locks at half the lock duration while handlers
// run, and acknowledges each outcome. Handler errors wrapped by
// job.NonRetryable go straight to failed-terminal; everything else follows
// the job's backoff policy until its attempt budget runs out.
//
// A side loop sweeps the queue for stalled jobs (expired locks) so work lost
// to a crashed or partitioned worker re-enters the queue without operator
// intervention.
//
// The Registry tracks one pool per queue and makes Start idempotent, so
// wiring code can re-register handlers without double-running them.
package worker
