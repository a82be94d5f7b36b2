package infra

import (
	"time"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// SystemClock implements domain.Clock with the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc runs f in its own goroutine after d.
func (SystemClock) AfterFunc(d time.Duration, f func()) domain.Timer {
	return time.AfterFunc(d, f)
}

// Ensure SystemClock implements domain.Clock.
var _ domain.Clock = SystemClock{}
