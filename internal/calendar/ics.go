package calendar

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const productID = "-//signupslots//bookings//EN"

type Event struct {
	SlotID      uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	Summary     string
	Location    string
	Description string
}

// Build renders events as an iCalendar document. Times are written in UTC.
func Build(events []Event, now time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)

	for _, e := range events {
		ev := cal.AddEvent(fmt.Sprintf("%s@signupslots", e.SlotID))
		ev.SetDtStampTime(now.UTC())
		ev.SetCreatedTime(now.UTC())
		ev.SetStartAt(e.StartAt.UTC())
		ev.SetEndAt(e.EndAt.UTC())
		ev.SetSummary(e.Summary)
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
	}
	return cal.Serialize()
}
