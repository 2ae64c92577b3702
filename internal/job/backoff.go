package job

import (
	"fmt"
	"time"
)

// Backoff kinds
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Default backoff policy applied when enqueue options leave it unset. The
// base is deliberately small; the cap bounds exponential growth.
const (
	DefaultBackoffBaseMs = int64(1_000)
	DefaultBackoffMaxMs  = int64(60_000)
)

// Backoff is the delay policy before a failed-retryable job re-enters waiting.
type Backoff struct {
	Kind        string `json:"kind,omitempty"`
	BaseDelayMs int64  `json:"base_delay_ms,omitempty"`
	MaxDelayMs  int64  `json:"max_delay_ms,omitempty"`
}

func (b *Backoff) normalize() error {
	switch b.Kind {
	case "":
		b.Kind = BackoffExponential
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("job: unknown backoff kind %q", b.Kind)
	}
	if b.BaseDelayMs < 0 || b.MaxDelayMs < 0 {
		return fmt.Errorf("job: backoff delays must be >= 0")
	}
	if b.BaseDelayMs == 0 {
		b.BaseDelayMs = DefaultBackoffBaseMs
	}
	if b.MaxDelayMs == 0 {
		b.MaxDelayMs = DefaultBackoffMaxMs
	}
	if b.MaxDelayMs < b.BaseDelayMs {
		b.MaxDelayMs = b.BaseDelayMs
	}
	return nil
}

// Delay computes the wait before the given attempt (1-based) is retried.
// Fixed always waits the base delay; exponential waits base × 2^(attempt-1).
// Both are capped at the max delay.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.BaseDelayMs
	maxMs := b.MaxDelayMs
	if maxMs <= 0 {
		maxMs = DefaultBackoffMaxMs
	}

	var ms int64
	switch b.Kind {
	case BackoffFixed:
		ms = base
	default:
		// Shift overflows past 62 doublings; anything that far gone is capped anyway.
		if attempt-1 >= 62 {
			ms = maxMs
		} else {
			ms = base << uint(attempt-1)
			if ms < base {
				ms = maxMs
			}
		}
	}
	if ms > maxMs {
		ms = maxMs
	}
	return time.Duration(ms) * time.Millisecond
}
