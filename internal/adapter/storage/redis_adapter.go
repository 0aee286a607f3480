package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/movie-rental/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	idempotencyPending   = "pending"
)

// Only a claim still pending may be completed; a released or expired claim
// stays gone.
var completeRequestScript = redis.NewScript(`
local key = KEYS[1]
local rental_id = ARGV[1]
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current ~= 'pending' then
	return 0
end

redis.call('SET', key, rental_id, 'PX', ttl)
return 1
`)

// Release only drops a pending claim, never a recorded result.
var releaseRequestScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('GET', key) == 'pending' then
	return redis.call('DEL', key)
end

return 0
`)

var errClaimLost = errors.New("idempotency claim no longer pending")

// RedisAdapter keeps idempotency claims for rental requests. A key holds
// "pending" while the request runs and the rental id once it completes.
type RedisAdapter struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: idempotencyKeyTTL}
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, idempotencyPending, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key string, rentalID int64) error {
	result, err := completeRequestScript.Run(ctx, r.client,
		[]string{idempotencyKeyPrefix + key},
		strconv.FormatInt(rentalID, 10), r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	if result != 1 {
		return fmt.Errorf("complete %s: %w", key, errClaimLost)
	}
	return nil
}

func (r *RedisAdapter) Lookup(ctx context.Context, key string) (int64, bool, error) {
	val, err := r.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	if val == idempotencyPending {
		return 0, false, nil
	}

	rentalID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: malformed rental id %q: %w", key, val, err)
	}
	return rentalID, true, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	if err := releaseRequestScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

var _ port.IdempotencyRepository = (*RedisAdapter)(nil)
