package logic

import "time"

// WeekOfMonth buckets t into Sunday-aligned weeks of its month. The first
// day of every month is week 1.
func WeekOfMonth(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	offset := int(first.Weekday())
	return 1 + (t.Day()-1+offset)/7
}

// HolidayChecker reports public holidays for a locale.
type HolidayChecker interface {
	IsHoliday(date time.Time) bool
}

// Reason explains why a tick is not eligible.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonWeekend    Reason = "weekend"
	ReasonHoliday    Reason = "holiday"
	ReasonBannedHour Reason = "banned_hour"
)

// Gate decides whether a tick may proceed at a given local time.
type Gate struct {
	weekend  map[time.Weekday]bool
	banned   [24]bool
	holidays HolidayChecker
}

// DefaultWeekend is Saturday and Sunday.
var DefaultWeekend = []time.Weekday{time.Saturday, time.Sunday}

// DefaultBannedHours is the pre-dawn window 00:00-05:59.
var DefaultBannedHours = []int{0, 1, 2, 3, 4, 5}

// NewGate creates a Gate. Hours outside 0-23 are ignored. holidays may be nil.
func NewGate(weekend []time.Weekday, bannedHours []int, holidays HolidayChecker) *Gate {
	g := &Gate{
		weekend:  make(map[time.Weekday]bool, len(weekend)),
		holidays: holidays,
	}
	for _, d := range weekend {
		g.weekend[d] = true
	}
	for _, h := range bannedHours {
		if h >= 0 && h < 24 {
			g.banned[h] = true
		}
	}
	return g
}

// Check returns the first failing check for nowLocal, or ReasonNone.
// nowLocal must already be in the operating timezone.
func (g *Gate) Check(nowLocal time.Time) Reason {
	if g.weekend[nowLocal.Weekday()] {
		return ReasonWeekend
	}
	if g.banned[nowLocal.Hour()] {
		return ReasonBannedHour
	}
	if g.holidays != nil && g.holidays.IsHoliday(nowLocal) {
		return ReasonHoliday
	}
	return ReasonNone
}

// Eligible reports whether a tick at nowLocal may proceed.
func (g *Gate) Eligible(nowLocal time.Time) bool {
	return g.Check(nowLocal) == ReasonNone
}
