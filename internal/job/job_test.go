package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestOptionsDefaults(t *testing.T) {
	var o Options
	if err := o.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if o.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("max attempts default: got %d", o.MaxAttempts)
	}
	if o.Backoff.Kind != BackoffExponential {
		t.Fatalf("backoff kind default: got %q", o.Backoff.Kind)
	}
	if o.Backoff.BaseDelayMs != DefaultBackoffBaseMs {
		t.Fatalf("backoff base default: got %d", o.Backoff.BaseDelayMs)
	}
}

func TestOptionsRejectsBadValues(t *testing.T) {
	o := Options{MaxAttempts: -1}
	if err := o.Normalize(); err == nil {
		t.Fatalf("expected error for negative max attempts")
	}
	o = Options{Backoff: Backoff{Kind: "quadratic"}}
	if err := o.Normalize(); err == nil {
		t.Fatalf("expected error for unknown backoff kind")
	}
}

func TestNewRequiresNames(t *testing.T) {
	if _, err := New("", "send", nil, Options{}); err == nil {
		t.Fatalf("expected error for empty queue")
	}
	if _, err := New("mail", "", nil, Options{}); err == nil {
		t.Fatalf("expected error for empty job name")
	}
}

func TestLockExpired(t *testing.T) {
	j := &Job{}
	if j.LockExpired(1000) {
		t.Fatalf("job without lock must not be expired")
	}
	j.Lock = &Lock{Owner: "w1", ExpiresAtMs: 500}
	if !j.LockExpired(1000) {
		t.Fatalf("expected expired lock")
	}
	if j.LockExpired(400) {
		t.Fatalf("lock not yet expired at 400")
	}
}

func TestCloneIsDeep(t *testing.T) {
	j := &Job{
		ID:      "a",
		Payload: json.RawMessage(`{"n":1}`),
		Lock:    &Lock{Owner: "w1", ExpiresAtMs: 9},
	}
	cp := j.Clone()
	cp.Lock.Owner = "w2"
	cp.Payload[2] = 'x'
	if j.Lock.Owner != "w1" || string(j.Payload) != `{"n":1}` {
		t.Fatalf("clone shares state with original")
	}
}

func TestBackoffFixed(t *testing.T) {
	b := Backoff{Kind: BackoffFixed, BaseDelayMs: 100, MaxDelayMs: 1000}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := b.Delay(attempt); got.Milliseconds() != 100 {
			t.Fatalf("fixed delay attempt %d: got %v", attempt, got)
		}
	}
}

func TestBackoffExponential(t *testing.T) {
	b := Backoff{Kind: BackoffExponential, BaseDelayMs: 100, MaxDelayMs: 10_000}
	want := []int64{100, 200, 400, 800, 1600}
	for i, w := range want {
		if got := b.Delay(i + 1).Milliseconds(); got != w {
			t.Fatalf("attempt %d: got %dms want %dms", i+1, got, w)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	b := Backoff{Kind: BackoffExponential, BaseDelayMs: 100, MaxDelayMs: 500}
	if got := b.Delay(10).Milliseconds(); got != 500 {
		t.Fatalf("expected cap at 500ms, got %d", got)
	}
	// Huge attempt counts must not overflow into negative delays.
	if got := b.Delay(200); got.Milliseconds() != 500 {
		t.Fatalf("expected cap for large attempt, got %v", got)
	}
}

func TestRecordRoundtrip(t *testing.T) {
	j, err := New("mail", "send", json.RawMessage(`{"to":"a@b"}`), Options{MaxAttempts: 5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	j.ID = "0000000000000001"
	j.Seq = 7
	enc, err := Encode(j)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.ID != j.ID || dec.Name != j.Name || dec.Seq != 7 || dec.MaxAttempts != 5 {
		t.Fatalf("metadata mismatch: %+v", dec)
	}
	if string(dec.Payload) != `{"to":"a@b"}` {
		t.Fatalf("payload mismatch: %s", dec.Payload)
	}
}

func TestRecordCRCFail(t *testing.T) {
	j, _ := New("q", "n", json.RawMessage(`1`), Options{})
	enc, _ := Encode(j)
	enc[len(enc)-1] ^= 0xFF
	if _, err := Decode(enc); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestRecordTruncated(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord for short input, got %v", err)
	}
}

func TestNonRetryable(t *testing.T) {
	base := errors.New("bad payload")
	err := NonRetryable(base)
	if !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable")
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapper must preserve the cause")
	}
	wrapped := fmt.Errorf("handler: %w", err)
	if !IsNonRetryable(wrapped) {
		t.Fatalf("non-retryable must survive further wrapping")
	}
	if IsNonRetryable(errors.New("transient")) {
		t.Fatalf("plain errors are retryable")
	}
	if NonRetryable(nil) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}
