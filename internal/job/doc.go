// Package job defines the unit of work moved through a queue: the Job record,
// its state machine, retry/backoff policy, and the on-disk record framing.
//
// # State Machine
//
//	waiting → active → completed
//	                 → failed-retryable → waiting   (after backoff)
//	                 → failed-terminal
//
// The attempt counter increments when a worker claims the job. A stalled claim
// (lock expired without completion) keeps that increment when the job returns
// to waiting, so every trip through active costs exactly one attempt whether it
// failed loudly or silently. completed and failed-terminal are terminal.
//
// Handlers signal a permanent failure by returning an error wrapped with
// NonRetryable; everything else is treated as transient.
package job
