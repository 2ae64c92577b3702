// Package monitor is the read-only observation facade over the broker. It
// serves queue listings, per-state counts, and filtered job snapshots to the
// HTTP dashboard endpoints and the CLI.
//
// The facade never mutates queue state and never blocks job processing: every
// read runs against its own broker call, and when the broker is unreachable
// it degrades to an explicit error view instead of propagating panics or
// stalling callers.
package monitor
