// Package pebblebroker implements the broker contract on an embedded Pebble
// store. It is the default backend: durable, ordered, and atomic without any
// external process.
//
// FIFO delivery comes from a ready index keyed by a per-queue sequence.
// Backoff and delayed delivery use a delay index keyed by ready-at time;
// eligible entries are promoted into the ready index before each claim pass.
// Claims write a lock index keyed by expiry time, which makes the stall scan
// a bounded prefix read that stops at the first unexpired entry.
//
// Completed and terminally failed records move into bounded retention
// buffers (oldest entries trimmed) unless the job asked to be purged.
package pebblebroker
