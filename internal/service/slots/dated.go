package slots

import (
	"context"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
)

// DateGroup holds the available slots starting on one local calendar date.
type DateGroup struct {
	Date  string      `json:"date"`
	Label string      `json:"label"`
	Slots []DatedSlot `json:"slots"`
}

type DatedSlot struct {
	domain.Slot
	LocalStart string `json:"local_start"`
	LocalEnd   string `json:"local_end"`
	Seats      int    `json:"remaining"`
}

type DatedPage struct {
	FormID   string             `json:"form_id"`
	Timezone string             `json:"time_zone"`
	Fields   []domain.FormField `json:"fields,omitempty"`
	Dates    []DateGroup        `json:"dates"`
	HasMore  bool               `json:"has_more"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

// AvailableByDate is ListAvailable grouped by start date in the form's timezone,
// together with the form's custom questions: the shape the public registration
// page renders.
func (s *SlotService) AvailableByDate(ctx context.Context, query domain.AvailabilityQuery) (*DatedPage, error) {
	form, err := s.forms.GetByID(ctx, query.FormID)
	if err != nil {
		return nil, err
	}
	loc, err := form.LoadLocation(s.defaultTimezone)
	if err != nil {
		loc = time.UTC
	}

	page, err := s.ListAvailable(ctx, query)
	if err != nil {
		return nil, err
	}

	return &DatedPage{
		FormID:   form.ID.String(),
		Timezone: loc.String(),
		Fields:   form.Fields,
		Dates:    GroupByLocalDate(page.Slots, loc),
		HasMore:  page.HasMore,
		Limit:    query.PageSize(),
		Offset:   max(query.Offset, 0),
	}, nil
}

// GroupByLocalDate keeps the input order, which is ascending by start.
func GroupByLocalDate(slots []domain.Slot, loc *time.Location) []DateGroup {
	groups := []DateGroup{}
	for _, slot := range slots {
		start, end := slot.StartAt.In(loc), slot.EndAt.In(loc)
		date := start.Format(time.DateOnly)
		if len(groups) == 0 || groups[len(groups)-1].Date != date {
			groups = append(groups, DateGroup{Date: date, Label: start.Format("Monday, January 2")})
		}
		g := &groups[len(groups)-1]
		g.Slots = append(g.Slots, DatedSlot{
			Slot:       slot,
			LocalStart: start.Format("15:04"),
			LocalEnd:   end.Format("15:04"),
			Seats:      slot.Remaining(),
		})
	}
	return groups
}
