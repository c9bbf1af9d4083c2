package session

import (
	"time"
)

// Calendar provides market-hours awareness for reconnect gating. The
// extended window covers the core session plus the pre/post margin during
// which reconnection is allowed to run ahead of the opening bell.
type Calendar interface {
	IsOpen(t time.Time) bool
	IsExtendedOpen(t time.Time) bool
}

// NSECalendar implements NSE equity market hours: 09:15-15:30 IST, Monday to
// Friday, with an extended window of 08:45-16:00. Exchange holidays are not
// modelled; a watchdog tick on a holiday costs one failed reconnect attempt.
type NSECalendar struct {
	loc *time.Location
}

// NewNSECalendar loads the IST timezone.
func NewNSECalendar() (*NSECalendar, error) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return nil, err
	}
	return &NSECalendar{loc: loc}, nil
}

// IsOpen reports whether t falls inside the core trading session.
func (c *NSECalendar) IsOpen(t time.Time) bool {
	return c.within(t, 9*60+15, 15*60+30)
}

// IsExtendedOpen reports whether t falls inside the extended window.
func (c *NSECalendar) IsExtendedOpen(t time.Time) bool {
	return c.within(t, 8*60+45, 16*60)
}

func (c *NSECalendar) within(t time.Time, fromMin, toMin int) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= fromMin && minutes < toMin
}
