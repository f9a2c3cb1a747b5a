package domain

import "time"

// SlotFilter selects existing slots of a form by local weekday, local time
// window and a start-time range. It is the compiled form of a RemovalSpec.
type SlotFilter struct {
	Location *time.Location
	Weekdays map[time.Weekday]bool
	// WindowStartMin and WindowEndMin are minutes since local midnight; -1 disables the window check.
	WindowStartMin int
	WindowEndMin   int
	// From and To bound StartAt as [From, To); zero values leave the side open.
	From time.Time
	To   time.Time
}

func (f SlotFilter) HasWindow() bool {
	return f.WindowStartMin >= 0 && f.WindowEndMin >= 0
}

func (f SlotFilter) Matches(s Slot) bool {
	if !f.From.IsZero() && s.StartAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !s.StartAt.Before(f.To) {
		return false
	}

	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	start := s.StartAt.In(loc)
	if !f.Weekdays[start.Weekday()] {
		return false
	}
	if !f.HasWindow() {
		return true
	}

	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int(s.EndAt.Sub(s.StartAt)/time.Minute)
	return startMin >= f.WindowStartMin && endMin <= f.WindowEndMin
}
