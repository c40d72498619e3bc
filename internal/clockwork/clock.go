package clockwork

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/wicara/domain/repositories"
)

// Clock adapts benbjohnson/clock to the domain interface. Wrap a mock with
// NewMock in tests to pin time.
type Clock struct {
	inner clock.Clock
}

var _ repositories.Clock = (*Clock)(nil)

// New returns the wall clock.
func New() *Clock {
	return &Clock{inner: clock.New()}
}

// NewMock returns a pinned clock plus the mock handle for advancing it.
func NewMock() (*Clock, *clock.Mock) {
	m := clock.NewMock()
	return &Clock{inner: m}, m
}

func (c *Clock) Now() time.Time {
	return c.inner.Now()
}

// HourOfDay returns the local hour in [0, 24).
func (c *Clock) HourOfDay() int {
	return c.inner.Now().Hour()
}

func (c *Clock) Sleep(d time.Duration) {
	c.inner.Sleep(d)
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	return c.inner.After(d)
}
