package schedule

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
)

var (
	DefaultSlotMinutes     = []int{15, 30, 45, 60, 90, 120, 180, 240}
	DefaultMaxHorizonWeeks = 12
)

// Generator turns recurrence specs into candidate slots. It holds no state
// besides its limits and is safe for concurrent use.
type Generator struct {
	allowedMinutes  map[int]bool
	maxHorizonWeeks int
	defaultTimezone string
	validate        *validator.Validate
}

type GeneratorOption func(*Generator)

func WithAllowedSlotMinutes(minutes []int) GeneratorOption {
	return func(g *Generator) {
		if len(minutes) == 0 {
			return
		}
		g.allowedMinutes = make(map[int]bool, len(minutes))
		for _, m := range minutes {
			g.allowedMinutes[m] = true
		}
	}
}

func WithMaxHorizonWeeks(weeks int) GeneratorOption {
	return func(g *Generator) {
		if weeks > 0 {
			g.maxHorizonWeeks = weeks
		}
	}
}

func WithDefaultTimezone(tz string) GeneratorOption {
	return func(g *Generator) {
		g.defaultTimezone = tz
	}
}

func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{maxHorizonWeeks: DefaultMaxHorizonWeeks}
	WithAllowedSlotMinutes(DefaultSlotMinutes)(g)
	for _, opt := range opts {
		opt(g)
	}
	g.validate = newValidator(g.allowedMinutes, g.maxHorizonWeeks)
	return g
}

var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Generate returns the slots described by spec in ascending start order.
// Slots that start before now are left out, and so is any slot whose start
// or end falls on a local time skipped or repeated by a DST change. A slot
// whose interval crosses a DST change would not last SlotMinutes and is
// dropped as well.
func (g *Generator) Generate(spec domain.RecurrenceSpec, now time.Time) ([]domain.SlotWindow, error) {
	if err := g.ValidateRecurrence(spec); err != nil {
		return nil, err
	}
	loc, err := g.location(spec.Timezone)
	if err != nil {
		return nil, err
	}

	dates, err := matchingDates(spec.DaysOfWeek, firstDate(spec.StartFrom, now, loc), spec.HorizonWeeks)
	if err != nil {
		return nil, err
	}

	ws, we := spec.WindowStart.Minutes(), spec.WindowEnd.Minutes()
	length := time.Duration(spec.SlotMinutes) * time.Minute
	slots := make([]domain.SlotWindow, 0, len(dates)*((we-ws)/spec.SlotMinutes))
	for _, date := range dates {
		for m := ws; m+spec.SlotMinutes <= we; m += spec.SlotMinutes {
			start, ok := resolveWallClock(date, m, loc)
			if !ok {
				continue
			}
			end, ok := resolveWallClock(date, m+spec.SlotMinutes, loc)
			if !ok {
				continue
			}
			if end.Sub(start) != length || start.Before(now) {
				continue
			}
			slots = append(slots, domain.SlotWindow{StartAt: start.UTC(), EndAt: end.UTC()})
		}
	}
	return slots, nil
}

// CompileRemoval turns a removal spec into a filter over stored slots.
func (g *Generator) CompileRemoval(spec domain.RemovalSpec) (domain.SlotFilter, error) {
	if err := g.ValidateRemoval(spec); err != nil {
		return domain.SlotFilter{}, err
	}
	loc, err := g.location(spec.Timezone)
	if err != nil {
		return domain.SlotFilter{}, err
	}

	filter := domain.SlotFilter{
		Location:       loc,
		Weekdays:       make(map[time.Weekday]bool, len(spec.DaysOfWeek)),
		WindowStartMin: -1,
		WindowEndMin:   -1,
	}
	for _, d := range spec.DaysOfWeek {
		filter.Weekdays[time.Weekday(d)] = true
	}
	if spec.WindowStart != nil {
		filter.WindowStartMin = spec.WindowStart.Minutes()
		filter.WindowEndMin = spec.WindowEnd.Minutes()
	}
	if !spec.StartFrom.IsZero() {
		filter.From = spec.StartFrom.Midnight(loc)
		if spec.HorizonWeeks > 0 {
			filter.To = spec.StartFrom.AddDays(spec.HorizonWeeks * 7).Midnight(loc)
		}
	}
	return filter, nil
}

func firstDate(from domain.Date, now time.Time, loc *time.Location) domain.Date {
	if from.IsZero() {
		return domain.DateOf(now.In(loc))
	}
	return from
}

// matchingDates lists calendar dates in [from, from+weeks*7) falling on one of days.
func matchingDates(days []domain.Weekday, from domain.Date, weeks int) ([]domain.Date, error) {
	byweekday := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		byweekday = append(byweekday, rruleWeekdays[d])
	}

	// Dates are enumerated on a UTC calendar so DST never shifts the day.
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   from.Midnight(time.UTC),
		Until:     from.AddDays(weeks*7 - 1).Midnight(time.UTC),
		Byweekday: byweekday,
	})
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}

	occurrences := rule.All()
	dates := make([]domain.Date, 0, len(occurrences))
	for _, t := range occurrences {
		dates = append(dates, domain.DateOf(t))
	}
	return dates, nil
}

// resolveWallClock maps a local date and minute of day to the single instant
// showing that wall clock in loc. It reports false when the wall clock never
// occurs or occurs twice.
func resolveWallClock(date domain.Date, minute int, loc *time.Location) (time.Time, bool) {
	h, m := minute/60, minute%60
	naive := time.Date(date.Year, date.Month, date.Day, h, m, 0, 0, time.UTC)

	var found []time.Time
	for _, t := range []time.Time{naive.Add(-24 * time.Hour), naive.Add(24 * time.Hour)} {
		_, offset := t.In(loc).Zone()
		candidate := naive.Add(-time.Duration(offset) * time.Second)
		local := candidate.In(loc)
		if local.Day() != date.Day || local.Hour() != h || local.Minute() != m {
			continue
		}
		if len(found) == 0 || !found[0].Equal(candidate) {
			found = append(found, candidate)
		}
	}
	if len(found) != 1 {
		return time.Time{}, false
	}
	return found[0], true
}
