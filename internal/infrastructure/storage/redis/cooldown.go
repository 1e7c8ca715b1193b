package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ltpbot/internal/application/port"

	"github.com/redis/go-redis/v9"
)

// CooldownStore cooldown markers as keys that expire with the cooldown.
// Expiry is measured on clock, the same clock the router sets until from.
type CooldownStore struct {
	rdb    *redis.Client
	prefix string
	clock  port.Clock
}

func NewCooldownStore(rdb *redis.Client, prefix string, clock port.Clock) *CooldownStore {
	return &CooldownStore{rdb: rdb, prefix: prefix, clock: clock}
}

func (s *CooldownStore) key(source string) string {
	return s.prefix + ":cooldown:" + source
}

func (s *CooldownStore) Until(ctx context.Context, source string) (time.Time, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(source)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(sec, 0), true, nil
}

func (s *CooldownStore) Set(ctx context.Context, source string, until time.Time) error {
	ttl := s.ttl(until)
	if ttl <= 0 {
		return s.rdb.Del(ctx, s.key(source)).Err()
	}
	return s.rdb.Set(ctx, s.key(source), strconv.FormatInt(until.Unix(), 10), ttl).Err()
}

func (s *CooldownStore) ttl(until time.Time) time.Duration {
	return until.Sub(s.clock.Now())
}

var _ port.CooldownStore = (*CooldownStore)(nil)
