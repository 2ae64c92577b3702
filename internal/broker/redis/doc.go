// Package redisbroker implements the broker contract on a Redis server, for
// deployments that want the queue shared across processes and hosts.
//
// Each queue keeps a ready sorted set scored by enqueue sequence (FIFO), two
// sorted sets scored by ready-at time for initial delays and retry backoff,
// and a lock sorted set scored by expiry time. Job records use the same
// CRC-framed encoding as the embedded backend and live under one key per job.
// Completed and terminally failed records go to capped lists via LPUSH and
// LTRIM.
//
// Index moves that must be atomic (promotion plus claim, and the stall sweep)
// run as server-side Lua scripts; record rewrites follow in a pipeline. A
// crash between the two leaves the job in the lock set, where the next stall
// sweep recovers it.
package redisbroker
