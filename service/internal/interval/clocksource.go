package interval

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jaym/go-microtimer/timer"
)

// ClockSource fires once per period. Each fire is scheduled relative to the
// previous one when Next is called, so delays accumulate instead of being
// corrected against the start time. A ClockSource is started once and cannot
// be restarted.
type ClockSource struct {
	clock  clock.Clock
	period time.Duration
	t      *clock.Timer
}

func NewClockSource(c clock.Clock, period time.Duration) (*ClockSource, error) {
	if err := timer.ValidatePeriod(period); err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.New()
	}
	return &ClockSource{
		clock:  c,
		period: period,
	}, nil
}

func (s *ClockSource) Period() time.Duration {
	return s.period
}

// Start arms the first fire. Nothing is scheduled before Start.
func (s *ClockSource) Start() {
	if s.t != nil {
		panic("clock source already started")
	}
	s.t = s.clock.Timer(s.period)
}

func (s *ClockSource) C() <-chan time.Time {
	return s.t.C
}

// Next schedules the fire following the one just received from C.
func (s *ClockSource) Next() {
	s.t.Reset(s.period)
}

func (s *ClockSource) Stop() {
	if s.t != nil {
		s.t.Stop()
	}
}
