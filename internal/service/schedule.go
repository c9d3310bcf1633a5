package service

import "time"

const day = 24 * time.Hour

// Schedule derives operational health from the most recent heartbeat.
// Both predicates are pure; a nil last heartbeat means "never happened".
type Schedule struct {
	Location      *time.Location
	DailyHour     int
	Cadence       time.Duration
	RiskThreshold time.Duration
}

// DefaultSchedule expects a heartbeat every 3 days at 08:00 local time and
// flags the backend as at risk after 5 days of silence.
func DefaultSchedule() Schedule {
	return Schedule{
		Location:      time.Local,
		DailyHour:     8,
		Cadence:       3 * day,
		RiskThreshold: 5 * day,
	}
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

func (s Schedule) atDailyHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), s.DailyHour, 0, 0, 0, s.location())
}

// NextExpected returns when the next heartbeat should land.
// Without history it is the next DailyHour at or after now; otherwise it is
// Cadence after the last heartbeat with the time of day set to DailyHour.
func (s Schedule) NextExpected(last *time.Time, now time.Time) time.Time {
	loc := s.location()

	if last == nil {
		today := s.atDailyHour(now.In(loc))
		if today.Before(now) {
			return today.AddDate(0, 0, 1)
		}
		return today
	}

	days := int(s.Cadence / day)
	next := last.In(loc).AddDate(0, 0, days).Add(s.Cadence % day)
	return s.atDailyHour(next)
}

// AtRisk reports whether the backend may already have paused: no heartbeat
// at all, or RiskThreshold or more elapsed since the last one (inclusive).
func (s Schedule) AtRisk(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	elapsedDays := float64(now.Sub(*last).Milliseconds()) / float64(day.Milliseconds())
	thresholdDays := float64(s.RiskThreshold) / float64(day)
	return elapsedDays >= thresholdDays
}

// NextExpectedHeartbeat applies DefaultSchedule.
func NextExpectedHeartbeat(last *time.Time, now time.Time) time.Time {
	return DefaultSchedule().NextExpected(last, now)
}

// IsAtRisk applies DefaultSchedule.
func IsAtRisk(last *time.Time, now time.Time) bool {
	return DefaultSchedule().AtRisk(last, now)
}
