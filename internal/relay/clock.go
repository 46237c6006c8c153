package relay

import "time"

// Clock supplies the current time and a delay primitive.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// SystemClock returns a Clock backed by package time. Now carries a monotonic
// reading, so durations between two Now values ignore wall-clock jumps.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
