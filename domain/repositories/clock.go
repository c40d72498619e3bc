package repositories

import (
	"time"
)

// Clock supplies all time used by the core so tests can pin it. Routing,
// budget windows, timeouts and retry delays must read through this.
type Clock interface {
	Now() time.Time
	HourOfDay() int
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}
