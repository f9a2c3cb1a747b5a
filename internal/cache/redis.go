package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/signupslots/config"
	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps rendered availability pages per form. Every page key
// carries the form's cache version; invalidation bumps the version so pages
// computed before a change are never read again, even when they are written
// after it.
type RedisCache struct {
	client          *redis.Client
	availabilityTTL time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func NewRedisCache(client *redis.Client, availabilityTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:          client,
		availabilityTTL: availabilityTTL,
	}
}

// GetAvailability returns the cached page, or nil on a miss, together with
// the form version the caller must hand back to SetAvailability.
func (c *RedisCache) GetAvailability(ctx context.Context, q domain.AvailabilityQuery) (*domain.SlotPage, int64, error) {
	version, err := c.version(ctx, q.FormID)
	if err != nil {
		return nil, 0, err
	}

	data, err := c.client.Get(ctx, pageKey(q, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, version, nil
		}
		return nil, version, err
	}

	var page domain.SlotPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, version, err
	}
	return &page, version, nil
}

// SetAvailability stores page under version. The entry expires no later than
// the start of the first slot on the page, which is when the page stops being
// accurate.
func (c *RedisCache) SetAvailability(ctx context.Context, q domain.AvailabilityQuery, version int64, page domain.SlotPage) error {
	ttl := pageTTL(c.availabilityTTL, q.AsOf, page)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pageKey(q, version), payload, ttl).Err()
}

// InvalidateForm moves the form to a new version. Pages of older versions
// expire on their own.
func (c *RedisCache) InvalidateForm(ctx context.Context, formID uuid.UUID) error {
	return c.client.Incr(ctx, versionKey(formID)).Err()
}

func (c *RedisCache) version(ctx context.Context, formID uuid.UUID) (int64, error) {
	version, err := c.client.Get(ctx, versionKey(formID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

func pageTTL(limit time.Duration, asOf time.Time, page domain.SlotPage) time.Duration {
	if len(page.Slots) == 0 || asOf.IsZero() {
		return limit
	}
	if until := page.Slots[0].StartAt.Sub(asOf); until < limit {
		return until
	}
	return limit
}

func availabilityKey(formID uuid.UUID) string {
	return fmt.Sprintf("cache:availability:%s", formID)
}

func versionKey(formID uuid.UUID) string {
	return availabilityKey(formID) + ":version"
}

func pageKey(q domain.AvailabilityQuery, version int64) string {
	return fmt.Sprintf("%s:v%d:%s", availabilityKey(q.FormID), version, pageField(q))
}

// pageField identifies one page. AsOf is left out: cached pages are only
// served for queries anchored at "now" and expire before their first slot starts.
func pageField(q domain.AvailabilityQuery) string {
	return fmt.Sprintf("%d:%d:%s:%s", q.PageSize(), q.Offset, unixOrDash(q.From), unixOrDash(q.To))
}

func unixOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprint(t.Unix())
}
