package clock

import "time"

// Clock is the time source for every "today" comparison in the ledgers.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in Location (UTC when unset).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}
