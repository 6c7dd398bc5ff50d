package worker

import "time"

// backoff produces a growing wait between retries of the receive loop.
type backoff struct {
	initialMillis int64
	maxMillis     int64
	multiplier    float64

	currentMillis int64
}

// nextBackoff returns a channel that fires after the current wait, and grows
// the wait for next time.
func (b *backoff) nextBackoff() <-chan time.Time {
	if b.currentMillis == 0 {
		b.currentMillis = b.initialMillis
	}
	var wait = time.Duration(b.currentMillis) * time.Millisecond
	b.currentMillis = int64(float64(b.currentMillis) * b.multiplier)
	if b.currentMillis > b.maxMillis {
		b.currentMillis = b.maxMillis
	}
	return time.After(wait)
}

func (b *backoff) reset() {
	b.currentMillis = 0
}
