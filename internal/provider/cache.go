package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

// CachedDirectory fronts another Directory with a Redis read-through cache.
// Cache failures fall back to the underlying directory.
type CachedDirectory struct {
	next   Directory
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, client: client, ttl: ttl, logger: logger}
}

func scheduleKey(id uuid.UUID) string { return "provider:schedule:" + id.String() }
func activeKey(id uuid.UUID) string   { return "provider:active:" + id.String() }

func (c *CachedDirectory) GetSchedule(ctx context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error) {
	key := scheduleKey(providerID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s schedule.ProviderSchedule
		if jerr := json.Unmarshal(raw, &s); jerr == nil {
			return &s, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cached schedule")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("schedule cache read failed")
	}

	s, err := c.next.GetSchedule(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(s); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("schedule cache write failed")
		}
	}
	return s, nil
}

func (c *CachedDirectory) IsVerifiedAndActive(ctx context.Context, providerID uuid.UUID) (bool, error) {
	key := activeKey(providerID)

	v, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return v == "1", nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("provider status cache read failed")
	}

	ok, err := c.next.IsVerifiedAndActive(ctx, providerID)
	if err != nil {
		return false, err
	}

	flag := "0"
	if ok {
		flag = "1"
	}
	if err := c.client.Set(ctx, key, flag, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("provider status cache write failed")
	}
	return ok, nil
}

// Invalidate drops the cached entries for a provider.
func (c *CachedDirectory) Invalidate(ctx context.Context, providerID uuid.UUID) error {
	if err := c.client.Del(ctx, scheduleKey(providerID), activeKey(providerID)).Err(); err != nil {
		return fmt.Errorf("invalidate provider cache: %w", err)
	}
	return nil
}
