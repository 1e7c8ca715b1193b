package clock

import (
	"time"

	"ltpbot/internal/application/port"
)

// System wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ port.Clock = System{}
