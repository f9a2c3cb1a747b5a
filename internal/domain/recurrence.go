package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday is time.Weekday with lowercase English names on the wire.
type Weekday time.Weekday

var weekdayNames = map[string]Weekday{
	"sunday":    Weekday(time.Sunday),
	"monday":    Weekday(time.Monday),
	"tuesday":   Weekday(time.Tuesday),
	"wednesday": Weekday(time.Wednesday),
	"thursday":  Weekday(time.Thursday),
	"friday":    Weekday(time.Friday),
	"saturday":  Weekday(time.Saturday),
}

func ParseWeekday(s string) (Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid day of week %q", s)
	}
	return d, nil
}

func (d Weekday) String() string {
	return strings.ToLower(time.Weekday(d).String())
}

func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Weekday) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("day of week must be a string: %w", err)
	}
	parsed, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ClockTime is a local time of day with minute precision ("HH:MM").
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid HH:MM time %q", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns minutes since local midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time of day must be a string: %w", err)
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date is a calendar date without a timezone ("YYYY-MM-DD").
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Midnight returns local midnight of d in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	return d.Midnight(time.UTC).Before(o.Midnight(time.UTC))
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RecurrenceSpec describes a repeating weekly booking window.
type RecurrenceSpec struct {
	DaysOfWeek      []Weekday `json:"days_of_week" validate:"required,min=1,dive,min=0,max=6"`
	WindowStart     ClockTime `json:"window_start"`
	WindowEnd       ClockTime `json:"window_end"`
	SlotMinutes     int       `json:"slot_minutes" validate:"slot_minutes"`
	StartFrom       Date      `json:"start_from_date"`
	HorizonWeeks    int       `json:"weeks_ahead" validate:"min=1,horizon"`
	CapacityPerSlot int       `json:"capacity_per_slot" validate:"min=1"`
	Timezone        string    `json:"time_zone"`
}

// RemovalSpec is a filter over existing slots. Zero StartFrom and zero
// HorizonWeeks leave the date range open on that side.
type RemovalSpec struct {
	DaysOfWeek   []Weekday  `json:"days_of_week" validate:"required,min=1,dive,min=0,max=6"`
	WindowStart  *ClockTime `json:"window_start,omitempty"`
	WindowEnd    *ClockTime `json:"window_end,omitempty"`
	StartFrom    Date       `json:"start_from_date"`
	HorizonWeeks int        `json:"weeks_ahead" validate:"min=0,horizon"`
	Timezone     string     `json:"time_zone"`
}
