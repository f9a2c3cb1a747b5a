package email

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Domenick1991/signupslots/internal/calendar"
	"github.com/Domenick1991/signupslots/internal/kafka"
	"github.com/rs/zerolog/log"
)

type Message struct {
	To             string
	Subject        string
	Body           string
	AttachmentName string
	Attachment     []byte
}

// Sender renders booking confirmations. Delivery is left to the mail relay
// that tails the log; Send only records the rendered message.
type Sender struct {
	now func() time.Time
}

func NewSender() *Sender {
	return &Sender{now: time.Now}
}

func (s *Sender) Send(ctx context.Context, event kafka.SlotsBookedEvent) error {
	msg, err := s.Render(event)
	if err != nil {
		return err
	}
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("registration_id", event.RegistrationID.String()).
		Int("slots", len(event.Slots)).
		Int("attachment_bytes", len(msg.Attachment)).
		Msg("booking confirmation sent")
	return nil
}

// Render builds the confirmation listing booked times in the form's timezone.
func (s *Sender) Render(event kafka.SlotsBookedEvent) (*Message, error) {
	if event.Email == "" {
		return nil, fmt.Errorf("registration %s has no email address", event.RegistrationID)
	}
	loc := time.UTC
	if event.Timezone != "" {
		l, err := time.LoadLocation(event.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", event.Timezone, err)
		}
		loc = l
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nyou are booked for %s:\n\n", event.Name, event.FormTitle)
	events := make([]calendar.Event, 0, len(event.Slots))
	for _, slot := range event.Slots {
		start, end := slot.StartAt.In(loc), slot.EndAt.In(loc)
		fmt.Fprintf(&b, "  - %s, %s-%s (%s)\n", start.Format("Mon Jan 2 2006"), start.Format("15:04"), end.Format("15:04"), start.Format("MST"))
		events = append(events, calendar.Event{
			SlotID:   slot.SlotID,
			StartAt:  slot.StartAt,
			EndAt:    slot.EndAt,
			Summary:  event.FormTitle,
			Location: event.Location,
		})
	}
	if event.Location != "" {
		fmt.Fprintf(&b, "\nLocation: %s\n", event.Location)
	}
	if len(event.Answers) > 0 {
		keys := make([]string, 0, len(event.Answers))
		for k := range event.Answers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nYour answers:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, event.Answers[k])
		}
	}
	b.WriteString("\nThe attached calendar file adds these times to your calendar.\n")

	return &Message{
		To:             event.Email,
		Subject:        fmt.Sprintf("Your booking for %s", event.FormTitle),
		Body:           b.String(),
		AttachmentName: "booking.ics",
		Attachment:     []byte(calendar.Build(events, s.now())),
	}, nil
}
