package zones

import "time"

// Day bits for the Schedule active-day bitmask, Monday through Sunday.
const (
	Monday uint8 = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	EveryDay uint8 = 0x7F
)

// Schedule is a time-of-day/day-of-week activation window. A disabled
// schedule is always active. Windows where start is later than end cross
// midnight: 22:00-06:00 is active at 23:30 and at 02:00.
//
// Schedule is a pure value object: evaluation has no side effects.
type Schedule struct {
	Enabled     bool
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
	ActiveDays  uint8
}

// DefaultSchedule returns the all-day, every-day schedule, disabled so the
// zone is unconditionally active.
func DefaultSchedule() Schedule {
	return Schedule{
		Enabled:     false,
		StartHour:   0,
		StartMinute: 0,
		EndHour:     23,
		EndMinute:   59,
		ActiveDays:  EveryDay,
	}
}

// ActiveAt reports whether the schedule is active at t.
func (s Schedule) ActiveAt(t time.Time) bool {
	if !s.Enabled {
		return true
	}

	// time.Weekday counts Sunday as 0; the bitmask counts Monday as bit 0.
	dayBit := uint8(1) << ((int(t.Weekday()) + 6) % 7)
	if s.ActiveDays&dayBit == 0 {
		return false
	}

	start := s.StartHour*60 + s.StartMinute
	end := s.EndHour*60 + s.EndMinute
	now := t.Hour()*60 + t.Minute()

	if start <= end {
		return now >= start && now <= end
	}
	// Crosses midnight.
	return now >= start || now <= end
}
