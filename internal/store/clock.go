package store

import "time"

// Clock abstracts time sampling so tests can control the writer's
// monotone-wall-clock (spec.md §4.1) without sleeping. Grounded in the
// teacher's network.Clock / network.RealClock pair
// (internal/network/ports.go).
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
