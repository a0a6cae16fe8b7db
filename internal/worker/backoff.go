package worker

import "time"

// Backoff computes exponential retry delays: Base doubles per prior attempt,
// capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the attempt following retryCount failures.
func (b Backoff) Delay(retryCount int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
