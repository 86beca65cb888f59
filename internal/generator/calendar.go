package generator

import "time"

// Calendar decides which dates are trading days.
type Calendar struct {
	weekends map[time.Weekday]bool
}

// NewCalendar returns a calendar closed on the given weekdays.
func NewCalendar(weekends []time.Weekday) Calendar {
	c := Calendar{weekends: make(map[time.Weekday]bool, len(weekends))}
	for _, d := range weekends {
		c.weekends[d] = true
	}
	return c
}

// IsTradingDay reports whether markets open on d.
func (c Calendar) IsTradingDay(d time.Time) bool {
	return !c.weekends[d.Weekday()]
}

// Next returns the first trading day strictly after d.
func (c Calendar) Next(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for !c.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// OnOrAfter returns d if it is a trading day, otherwise the next one.
func (c Calendar) OnOrAfter(d time.Time) time.Time {
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Days returns n consecutive trading days starting on or after start.
func (c Calendar) Days(start time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	days := make([]time.Time, 0, n)
	d := c.OnOrAfter(start)
	for len(days) < n {
		days = append(days, d)
		d = c.Next(d)
	}
	return days
}
