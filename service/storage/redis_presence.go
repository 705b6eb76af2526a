package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultPresenceTTL = 90 * time.Second

// presence key: im:presence:<user>
// value: id of the gateway holding the user; the TTL bounds how long a
// crashed gateway can keep a user online.
func presenceKey(userID int64) string { return "im:presence:" + strconv.FormatInt(userID, 10) }

// only the gateway that owns the key may delete it
var delIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisPresence mirrors this gateway's online users into redis.
type RedisPresence struct {
	rdb       redis.UniversalClient
	gatewayID string
	ttl       time.Duration
}

func NewRedisPresence(rdb redis.UniversalClient, gatewayID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &RedisPresence{rdb: rdb, gatewayID: gatewayID, ttl: ttl}
}

// Online sets the user as online here and renews the TTL.
func (p *RedisPresence) Online(ctx context.Context, userID int64) error {
	return errors.Wrap(p.rdb.Set(ctx, presenceKey(userID), p.gatewayID, p.ttl).Err(), "presence online")
}

// Offline removes the key unless another gateway took it over.
func (p *RedisPresence) Offline(ctx context.Context, userID int64) error {
	err := delIfOwner.Run(ctx, p.rdb, []string{presenceKey(userID)}, p.gatewayID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "presence offline")
	}
	return nil
}
