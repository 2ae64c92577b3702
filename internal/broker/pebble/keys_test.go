package pebblebroker

import (
	"bytes"
	"testing"
)

func TestReadyKeyOrdering(t *testing.T) {
	// Big-endian sequences must sort numerically under a bytewise comparator.
	prev := readyKey("q1", 0)
	for _, seq := range []uint64{1, 2, 255, 256, 1 << 20, 1 << 40} {
		k := readyKey("q1", seq)
		if bytes.Compare(prev, k) >= 0 {
			t.Fatalf("readyKey(%d) does not sort after its predecessor", seq)
		}
		prev = k
	}
}

func TestKeyRangeCoversHighBytes(t *testing.T) {
	// A queue name starting with 0xFF must fall inside the registry bounds.
	lo, hi := keyRange(prefixRegistry)
	key := registryKey("\xffqueue")
	if bytes.Compare(key, lo) < 0 || bytes.Compare(key, hi) >= 0 {
		t.Fatalf("key %q outside range [%q, %q)", key, lo, hi)
	}

	// Same for index keys under such a queue.
	lo, hi = keyRange(queuePrefix("\xffqueue") + suffixReady)
	rk := readyKey("\xffqueue", 1)
	if bytes.Compare(rk, lo) < 0 || bytes.Compare(rk, hi) >= 0 {
		t.Fatalf("ready key %q outside range [%q, %q)", rk, lo, hi)
	}

	// The bound is exclusive of the next sibling prefix.
	lo, hi = keyRange(queuePrefix("mail") + suffixReady)
	if sibling := []byte(queuePrefix("mail") + suffixDelay); bytes.Compare(sibling, lo) >= 0 && bytes.Compare(sibling, hi) < 0 {
		t.Fatalf("sibling prefix %q inside range [%q, %q)", sibling, lo, hi)
	}

	if _, hi := keyRange("\xff\xff"); hi != nil {
		t.Fatalf("all-0xFF prefix successor = %q, want unbounded", hi)
	}
}

func TestTimedKeyRoundTrip(t *testing.T) {
	prefixLen := len(queuePrefix("mail") + suffixDelay)
	key := delayKey("mail", 1234567, "job-abc")

	ts, id, ok := timedKeyParts(key, prefixLen)
	if !ok {
		t.Fatal("timedKeyParts rejected a well-formed key")
	}
	if ts != 1234567 || id != "job-abc" {
		t.Fatalf("timedKeyParts = (%d, %q), want (1234567, job-abc)", ts, id)
	}

	if _, _, ok := timedKeyParts(key[:prefixLen+4], prefixLen); ok {
		t.Fatal("timedKeyParts accepted a truncated key")
	}
}

func TestDelayValueRoundTrip(t *testing.T) {
	seq, flag, ok := parseDelayValue(delayValue(99, flagDelayedRetryable))
	if !ok || seq != 99 || flag != flagDelayedRetryable {
		t.Fatalf("parseDelayValue = (%d, %d, %v)", seq, flag, ok)
	}
	if _, _, ok := parseDelayValue([]byte{1, 2, 3}); ok {
		t.Fatal("parseDelayValue accepted a short value")
	}
}

func TestBufferMetaRoundTrip(t *testing.T) {
	first, count := parseBufferMeta(bufferMeta(7, 42))
	if first != 7 || count != 42 {
		t.Fatalf("parseBufferMeta = (%d, %d), want (7, 42)", first, count)
	}
	if f, c := parseBufferMeta(nil); f != 0 || c != 0 {
		t.Fatalf("parseBufferMeta(nil) = (%d, %d), want zeros", f, c)
	}
}
