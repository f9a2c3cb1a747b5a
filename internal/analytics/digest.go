package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/kafka"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type FormLister interface {
	ListByStatus(ctx context.Context, status domain.FormStatus) ([]domain.Form, error)
}

type StatsReader interface {
	Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Digest publishes a booking summary for every published form.
type Digest struct {
	forms    FormLister
	stats    StatsReader
	producer Producer
	topic    string
	now      func() time.Time
}

func NewDigest(forms FormLister, stats StatsReader, producer Producer, topic string) *Digest {
	return &Digest{forms: forms, stats: stats, producer: producer, topic: topic, now: time.Now}
}

func Summary(s domain.SlotStats) string {
	return fmt.Sprintf("%d of %d slots booked (%d of %d seats taken)", s.FullSlots, s.TotalSlots, s.TotalBooked, s.TotalCapacity)
}

// Run computes and publishes stats for every published form. A failure on one
// form is logged and the rest still run; the number of events sent is returned.
func (d *Digest) Run(ctx context.Context) (int, error) {
	forms, err := d.forms.ListByStatus(ctx, domain.FormStatusPublished)
	if err != nil {
		return 0, fmt.Errorf("list published forms: %w", err)
	}

	sent := 0
	for _, form := range forms {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		stats, err := d.stats.Stats(ctx, form.ID)
		if err != nil {
			log.Error().Err(err).Str("form_id", form.ID.String()).Msg("form stats failed")
			continue
		}
		event := kafka.FormStatsEvent{
			Type:          kafka.EventFormStats,
			FormID:        form.ID,
			OwnerID:       form.OwnerID,
			Title:         form.Title,
			TotalSlots:    stats.TotalSlots,
			FullSlots:     stats.FullSlots,
			TotalCapacity: stats.TotalCapacity,
			TotalBooked:   stats.TotalBooked,
			Summary:       Summary(stats),
			OccurredAt:    d.now().UTC(),
		}
		if err := d.producer.Publish(ctx, d.topic, form.ID.String(), event); err != nil {
			log.Error().Err(err).Str("form_id", form.ID.String()).Msg("publish form stats failed")
			continue
		}
		sent++
	}

	log.Info().Int("forms", len(forms)).Int("sent", sent).Msg("analytics digest finished")
	return sent, nil
}
