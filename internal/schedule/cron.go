package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Five-field expressions plus the @hourly style descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cadence is a parsed cron expression.
type Cadence struct {
	expr  string
	sched cron.Schedule
}

// ParseCadence parses expr or reports ErrInvalidCron.
func ParseCadence(expr string) (*Cadence, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return &Cadence{expr: expr, sched: sched}, nil
}

// Next returns the first firing strictly after t.
func (c *Cadence) Next(t time.Time) time.Time {
	return c.sched.Next(t)
}

// Upcoming returns the next n firings after t.
func (c *Cadence) Upcoming(t time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	for len(times) < n {
		t = c.sched.Next(t)
		if t.IsZero() {
			break
		}
		times = append(times, t)
	}
	return times
}

func (c *Cadence) String() string { return c.expr }

// nextFiring parses expr and returns its next firing after t.
func nextFiring(expr string, t time.Time) (time.Time, error) {
	c, err := ParseCadence(expr)
	if err != nil {
		return time.Time{}, err
	}
	return c.Next(t), nil
}
