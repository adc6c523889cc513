package reporting

import (
	"strings"
	"time"
)

// Period is one of the fixed look-back windows analytics accepts.
type Period string

const (
	PeriodDay   Period = "1d"
	PeriodWeek  Period = "7d"
	PeriodMonth Period = "30d"

	DefaultPeriod = PeriodWeek
)

var periodLengths = map[Period]time.Duration{
	PeriodDay:   24 * time.Hour,
	PeriodWeek:  7 * 24 * time.Hour,
	PeriodMonth: 30 * 24 * time.Hour,
}

// ParsePeriod maps a selector to a Period. Empty or unrecognised input
// yields DefaultPeriod with ok=false.
func ParsePeriod(s string) (Period, bool) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := periodLengths[p]; ok {
		return p, true
	}
	return DefaultPeriod, false
}

// Window returns [now - period, now].
func (p Period) Window(now time.Time) (time.Time, time.Time) {
	d, ok := periodLengths[p]
	if !ok {
		d = periodLengths[DefaultPeriod]
	}
	return now.Add(-d), now
}
