package pebblebroker

import "encoding/binary"

// Keyspace, all prefixed q/{queue}/:
//
//	meta              - lastSeq (8B BE)
//	job/{id}          - CRC-framed job record
//	ready/{seq}       - waiting FIFO index, value = job id
//	delay/{at_ms}/{id}- backoff/delay index, value = seq (8B) | flag (1B)
//	lock/{exp_ms}/{id}- lock expiry index, value = seq (8B)
//	done/{seq}        - completed-record retention buffer
//	dead/{seq}        - terminal-failure retention buffer
//	done_meta         - first seq (8B) | count (4B) for the done buffer
//	dead_meta         - first seq (8B) | count (4B) for the dead buffer
//
// The queue registry lives outside the per-queue prefix under queues/{queue}.
//
// Index keys embed big-endian timestamps/sequences so a plain prefix scan
// yields FIFO order (ready) or soonest-first order (delay, lock).

const (
	prefixRegistry = "queues/"
	prefixQueue    = "q/"

	suffixMeta     = "meta"
	suffixJob      = "job/"
	suffixReady    = "ready/"
	suffixDelay    = "delay/"
	suffixLock     = "lock/"
	suffixDone     = "done/"
	suffixDead     = "dead/"
	suffixDoneMeta = "done_meta"
	suffixDeadMeta = "dead_meta"
)

// delay-index value flags
const (
	flagDelayedWaiting   = byte(0) // initial enqueue delay, still "waiting"
	flagDelayedRetryable = byte(1) // backoff after a retryable failure
)

func registryKey(queue string) []byte {
	return []byte(prefixRegistry + queue)
}

func queuePrefix(queue string) string {
	return prefixQueue + queue + "/"
}

func metaKey(queue string) []byte {
	return []byte(queuePrefix(queue) + suffixMeta)
}

func jobKey(queue, id string) []byte {
	return []byte(queuePrefix(queue) + suffixJob + id)
}

func readyKey(queue string, seq uint64) []byte {
	prefix := queuePrefix(queue) + suffixReady
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func delayKey(queue string, atMs int64, id string) []byte {
	prefix := queuePrefix(queue) + suffixDelay
	key := make([]byte, len(prefix)+8+len(id))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(atMs))
	copy(key[len(prefix)+8:], id)
	return key
}

func lockKey(queue string, expMs int64, id string) []byte {
	prefix := queuePrefix(queue) + suffixLock
	key := make([]byte, len(prefix)+8+len(id))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(expMs))
	copy(key[len(prefix)+8:], id)
	return key
}

func doneKey(queue string, seq uint64) []byte {
	prefix := queuePrefix(queue) + suffixDone
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func deadKey(queue string, seq uint64) []byte {
	prefix := queuePrefix(queue) + suffixDead
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func doneMetaKey(queue string) []byte {
	return []byte(queuePrefix(queue) + suffixDoneMeta)
}

func deadMetaKey(queue string) []byte {
	return []byte(queuePrefix(queue) + suffixDeadMeta)
}

// keyRange returns inclusive-lower, exclusive-upper bounds covering every key
// with the given prefix. The upper bound is the prefix successor: the last
// non-0xFF byte incremented with the tail truncated, so keys whose next byte
// is 0xFF (queue names are arbitrary bytes) stay inside the range. A prefix
// of all 0xFF bytes has no successor and scans unbounded above.
func keyRange(prefix string) ([]byte, []byte) {
	lo := []byte(prefix)
	hi := make([]byte, len(lo))
	copy(hi, lo)
	for i := len(hi) - 1; i >= 0; i-- {
		if hi[i] < 0xFF {
			hi[i]++
			return lo, hi[:i+1]
		}
	}
	return lo, nil
}

// timedKeyParts splits an index key of shape prefix|ts(8B)|id into its
// timestamp and id. ok is false when the key is malformed.
func timedKeyParts(key []byte, prefixLen int) (ts int64, id string, ok bool) {
	if len(key) < prefixLen+8+1 {
		return 0, "", false
	}
	ts = int64(binary.BigEndian.Uint64(key[prefixLen : prefixLen+8]))
	id = string(key[prefixLen+8:])
	return ts, id, true
}

// delayValue encodes the delay-index value: seq (8B) | flag (1B).
func delayValue(seq uint64, flag byte) []byte {
	var v [9]byte
	binary.BigEndian.PutUint64(v[:8], seq)
	v[8] = flag
	return v[:]
}

func parseDelayValue(v []byte) (seq uint64, flag byte, ok bool) {
	if len(v) != 9 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(v[:8]), v[8], true
}

func seqValue(seq uint64) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], seq)
	return v[:]
}

// bufferMeta encodes retention-buffer metadata: firstSeq (8B) | count (4B).
func bufferMeta(firstSeq uint64, count uint32) []byte {
	var v [12]byte
	binary.BigEndian.PutUint64(v[:8], firstSeq)
	binary.BigEndian.PutUint32(v[8:], count)
	return v[:]
}

func parseBufferMeta(v []byte) (firstSeq uint64, count uint32) {
	if len(v) < 12 {
		return 0, 0
	}
	return binary.BigEndian.Uint64(v[:8]), binary.BigEndian.Uint32(v[8:])
}
