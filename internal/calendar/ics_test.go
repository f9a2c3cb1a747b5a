package calendar

import (
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	start := time.Date(2030, time.March, 4, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{SlotID: uuid.New(), StartAt: start, EndAt: start.Add(time.Hour), Summary: "Office hours", Location: "Room 4"},
		{SlotID: uuid.New(), StartAt: start.Add(24 * time.Hour), EndAt: start.Add(25 * time.Hour), Summary: "Office hours"},
	}

	out := Build(events, start.Add(-48*time.Hour))
	assert.Contains(t, out, "DTSTART:20300304T090000Z")
	assert.Contains(t, out, "LOCATION:Room 4")

	parsed, err := ics.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, parsed.Events(), 2)

	first := parsed.Events()[0]
	got, err := first.GetStartAt()
	require.NoError(t, err)
	assert.True(t, got.Equal(start))
	assert.Equal(t, events[0].SlotID.String()+"@signupslots", first.Id())
}
