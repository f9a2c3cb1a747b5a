package schedule

import (
	"testing"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clock(t *testing.T, s string) domain.ClockTime {
	t.Helper()
	c, err := domain.ParseClockTime(s)
	require.NoError(t, err)
	return c
}

func weekdays(days ...time.Weekday) []domain.Weekday {
	out := make([]domain.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, domain.Weekday(d))
	}
	return out
}

func eveningSpec(t *testing.T) domain.RecurrenceSpec {
	return domain.RecurrenceSpec{
		DaysOfWeek:      weekdays(time.Monday, time.Wednesday),
		WindowStart:     clock(t, "17:00"),
		WindowEnd:       clock(t, "21:00"),
		SlotMinutes:     60,
		StartFrom:       domain.Date{Year: 2025, Month: time.October, Day: 6},
		HorizonWeeks:    2,
		CapacityPerSlot: 1,
		Timezone:        "UTC",
	}
}

var beforeEverything = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestGenerate_MondayWednesdayEvenings(t *testing.T) {
	g := NewGenerator()

	slots, err := g.Generate(eveningSpec(t), beforeEverything)
	require.NoError(t, err)
	require.Len(t, slots, 16)

	first := slots[0]
	assert.Equal(t, time.Date(2025, time.October, 6, 17, 0, 0, 0, time.UTC), first.StartAt)
	assert.Equal(t, time.Date(2025, time.October, 6, 18, 0, 0, 0, time.UTC), first.EndAt)

	last := slots[len(slots)-1]
	assert.Equal(t, time.Date(2025, time.October, 15, 20, 0, 0, 0, time.UTC), last.StartAt)
	assert.Equal(t, time.Date(2025, time.October, 15, 21, 0, 0, 0, time.UTC), last.EndAt)

	perDay := map[time.Weekday]int{}
	for i, s := range slots {
		assert.Equal(t, time.Hour, s.EndAt.Sub(s.StartAt))
		perDay[s.StartAt.Weekday()]++
		if i > 0 {
			assert.True(t, slots[i-1].StartAt.Before(s.StartAt), "slots must be ordered by start")
		}
	}
	assert.Equal(t, map[time.Weekday]int{time.Monday: 8, time.Wednesday: 8}, perDay)
}

func TestGenerate_IsDeterministic(t *testing.T) {
	g := NewGenerator()
	now := time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC)

	a, err := g.Generate(eveningSpec(t), now)
	require.NoError(t, err)
	b, err := g.Generate(eveningSpec(t), now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_DropsTrailingPartialSlot(t *testing.T) {
	spec := eveningSpec(t)
	spec.WindowEnd = clock(t, "20:30")
	spec.DaysOfWeek = weekdays(time.Monday)
	spec.HorizonWeeks = 1

	slots, err := NewGenerator().Generate(spec, beforeEverything)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, 20, slots[2].EndAt.Hour())
}

func TestGenerate_ExcludesSlotsAlreadyStartedToday(t *testing.T) {
	// Monday 18:30, inside the 17:00-21:00 window
	now := time.Date(2025, time.October, 6, 18, 30, 0, 0, time.UTC)

	slots, err := NewGenerator().Generate(eveningSpec(t), now)
	require.NoError(t, err)
	require.Len(t, slots, 14)
	assert.Equal(t, time.Date(2025, time.October, 6, 19, 0, 0, 0, time.UTC), slots[0].StartAt)
	assert.Equal(t, time.Date(2025, time.October, 8, 17, 0, 0, 0, time.UTC), slots[2].StartAt)
}

func TestGenerate_DefaultsStartToTodayInTimezone(t *testing.T) {
	spec := eveningSpec(t)
	spec.StartFrom = domain.Date{}
	spec.Timezone = "Asia/Tokyo"
	spec.DaysOfWeek = weekdays(time.Tuesday)
	spec.HorizonWeeks = 1

	// Monday 20:00 UTC is already Tuesday 05:00 in Tokyo
	now := time.Date(2025, time.October, 6, 20, 0, 0, 0, time.UTC)
	slots, err := NewGenerator().Generate(spec, now)
	require.NoError(t, err)
	require.Len(t, slots, 4)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.October, 7, 17, 0, 0, 0, tokyo).UTC(), slots[0].StartAt)
}

func TestGenerate_ConvertsLocalTimesToUTC(t *testing.T) {
	spec := eveningSpec(t)
	spec.Timezone = "Europe/Berlin"
	spec.DaysOfWeek = weekdays(time.Monday)
	spec.HorizonWeeks = 4

	slots, err := NewGenerator().Generate(spec, beforeEverything)
	require.NoError(t, err)
	require.Len(t, slots, 16)

	// Summer time (UTC+2) before 2025-10-26, winter time (UTC+1) after.
	assert.Equal(t, time.Date(2025, time.October, 6, 15, 0, 0, 0, time.UTC), slots[0].StartAt)
	assert.Equal(t, time.Date(2025, time.October, 27, 16, 0, 0, 0, time.UTC), slots[12].StartAt)
}

func TestGenerate_SkipsNonexistentLocalTimes(t *testing.T) {
	spec := domain.RecurrenceSpec{
		DaysOfWeek:      weekdays(time.Sunday),
		WindowStart:     clock(t, "01:00"),
		WindowEnd:       clock(t, "04:00"),
		SlotMinutes:     60,
		StartFrom:       domain.Date{Year: 2025, Month: time.March, Day: 9},
		HorizonWeeks:    1,
		CapacityPerSlot: 1,
		Timezone:        "America/New_York",
	}

	slots, err := NewGenerator().Generate(spec, beforeEverything)
	require.NoError(t, err)
	// 02:00-03:00 local does not exist; 01:00-02:00 ends inside the gap.
	require.Len(t, slots, 1)
	assert.Equal(t, time.Date(2025, time.March, 9, 7, 0, 0, 0, time.UTC), slots[0].StartAt)
	assert.Equal(t, time.Date(2025, time.March, 9, 8, 0, 0, 0, time.UTC), slots[0].EndAt)
}

func TestGenerate_SkipsSlotsSpanningDSTChange(t *testing.T) {
	spring := domain.RecurrenceSpec{
		DaysOfWeek:      weekdays(time.Sunday),
		WindowStart:     clock(t, "01:00"),
		WindowEnd:       clock(t, "03:00"),
		SlotMinutes:     120,
		StartFrom:       domain.Date{Year: 2030, Month: time.March, Day: 10},
		HorizonWeeks:    1,
		CapacityPerSlot: 1,
		Timezone:        "America/New_York",
	}

	slots, err := NewGenerator().Generate(spring, beforeEverything)
	require.NoError(t, err)
	// Both ends exist, but 01:00 EST to 03:00 EDT is only one hour.
	assert.Empty(t, slots)

	autumn := spring
	autumn.WindowStart = clock(t, "00:00")
	autumn.WindowEnd = clock(t, "03:00")
	autumn.SlotMinutes = 180
	autumn.StartFrom = domain.Date{Year: 2030, Month: time.November, Day: 3}

	slots, err = NewGenerator().Generate(autumn, beforeEverything)
	require.NoError(t, err)
	// 00:00 EDT to 03:00 EST is four hours.
	assert.Empty(t, slots)

	// The week after the change the same window yields its full slot.
	autumn.StartFrom = domain.Date{Year: 2030, Month: time.November, Day: 10}
	slots, err = NewGenerator().Generate(autumn, beforeEverything)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 3*time.Hour, slots[0].EndAt.Sub(slots[0].StartAt))
}

func TestGenerate_SkipsAmbiguousLocalTimes(t *testing.T) {
	spec := domain.RecurrenceSpec{
		DaysOfWeek:      weekdays(time.Sunday),
		WindowStart:     clock(t, "00:00"),
		WindowEnd:       clock(t, "03:00"),
		SlotMinutes:     60,
		StartFrom:       domain.Date{Year: 2025, Month: time.November, Day: 2},
		HorizonWeeks:    1,
		CapacityPerSlot: 1,
		Timezone:        "America/New_York",
	}

	slots, err := NewGenerator().Generate(spec, beforeEverything)
	require.NoError(t, err)
	// 01:00 happens twice, so both slots touching it are dropped.
	require.Len(t, slots, 1)
	assert.Equal(t, time.Date(2025, time.November, 2, 7, 0, 0, 0, time.UTC), slots[0].StartAt)
}

func TestGenerate_InvalidSpecs(t *testing.T) {
	g := NewGenerator()

	tests := []struct {
		name   string
		mutate func(*domain.RecurrenceSpec)
		field  string
	}{
		{"no days", func(s *domain.RecurrenceSpec) { s.DaysOfWeek = nil }, "days_of_week"},
		{"empty days", func(s *domain.RecurrenceSpec) { s.DaysOfWeek = []domain.Weekday{} }, "days_of_week"},
		{"window reversed", func(s *domain.RecurrenceSpec) { s.WindowStart = clock(t, "21:00"); s.WindowEnd = clock(t, "17:00") }, "window_end"},
		{"window empty", func(s *domain.RecurrenceSpec) { s.WindowEnd = s.WindowStart }, "window_end"},
		{"slot not allowed", func(s *domain.RecurrenceSpec) { s.SlotMinutes = 50 }, "slot_minutes"},
		{"slot does not fit", func(s *domain.RecurrenceSpec) { s.WindowEnd = clock(t, "17:30") }, "slot_minutes"},
		{"horizon over cap", func(s *domain.RecurrenceSpec) { s.HorizonWeeks = 13 }, "weeks_ahead"},
		{"horizon zero", func(s *domain.RecurrenceSpec) { s.HorizonWeeks = 0 }, "weeks_ahead"},
		{"capacity zero", func(s *domain.RecurrenceSpec) { s.CapacityPerSlot = 0 }, "capacity_per_slot"},
		{"unknown timezone", func(s *domain.RecurrenceSpec) { s.Timezone = "Mars/Olympus" }, "time_zone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := eveningSpec(t)
			tt.mutate(&spec)

			slots, err := g.Generate(spec, beforeEverything)
			assert.Nil(t, slots)
			require.ErrorIs(t, err, domain.ErrInvalidSpec)

			var invalid *domain.InvalidSpecError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
			assert.NotEmpty(t, invalid.Reason)
		})
	}
}

func TestGenerate_RespectsConfiguredLimits(t *testing.T) {
	g := NewGenerator(WithAllowedSlotMinutes([]int{50}), WithMaxHorizonWeeks(1))

	spec := eveningSpec(t)
	spec.SlotMinutes = 50
	spec.HorizonWeeks = 1
	slots, err := g.Generate(spec, beforeEverything)
	require.NoError(t, err)
	assert.Len(t, slots, 8)

	spec.HorizonWeeks = 2
	_, err = g.Generate(spec, beforeEverything)
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)
}

func TestGenerate_UsesDefaultTimezone(t *testing.T) {
	g := NewGenerator(WithDefaultTimezone("Europe/Berlin"))
	spec := eveningSpec(t)
	spec.Timezone = ""

	slots, err := g.Generate(spec, beforeEverything)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.October, 6, 15, 0, 0, 0, time.UTC), slots[0].StartAt)
}
