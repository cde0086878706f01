package throttle

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KEYS: token counter, fingerprint counter, block marker.
// ARGV: token max, fingerprint max, window in ms.
var hitScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[3]) == 1 then
		return 0
	end

	local window = tonumber(ARGV[3])
	local t = redis.call('INCR', KEYS[1])
	if t == 1 then
		redis.call('PEXPIRE', KEYS[1], window)
	end
	local f = redis.call('INCR', KEYS[2])
	if f == 1 then
		redis.call('PEXPIRE', KEYS[2], window)
	end

	if t > tonumber(ARGV[1]) or f > tonumber(ARGV[2]) then
		redis.call('SET', KEYS[3], 1, 'PX', window)
		return 0
	end
	return 1
`)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Hit(ctx context.Context, h Hit) (bool, error) {
	res, err := hitScript.Run(ctx, s.rdb,
		[]string{h.TokenKey, h.FingerprintKey, h.BlockKey},
		h.TokenMax, h.FingerprintMax, h.Window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("throttle script: %w", err)
	}
	return res == 1, nil
}
