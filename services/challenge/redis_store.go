package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// swapScript applies the conditional transition atomically on the server.
// ARGV: expected nonce, expected attempts, replacement payload, ttl in ms.
var swapScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 0
end
local rec = cjson.decode(cur)
if rec.nonce ~= ARGV[1] or tonumber(rec.attempts) ~= tonumber(ARGV[2]) or rec.consumed == true then
	return 0
end
redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
return 1
`)

// deleteScript removes a record only if it still belongs to the given issuance.
var deleteScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 0
end
local rec = cjson.decode(cur)
if rec.nonce ~= ARGV[1] then
	return 0
end
return redis.call('DEL', KEYS[1])
`)

// RedisStore keeps each record as JSON under prefix+principal. Keys expire on
// their own once the record's expiry plus the retention window has passed.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
	}
}

func (s *RedisStore) key(principalID string) string {
	return s.prefix + principalID
}

func (s *RedisStore) ttl(rec *Record) time.Duration {
	ttl := rec.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisStore) Get(ctx context.Context, principalID string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(principalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode verification record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode verification record: %w", err)
	}
	return s.client.Set(ctx, s.key(rec.PrincipalID), payload, s.ttl(rec)).Err()
}

func (s *RedisStore) Swap(ctx context.Context, prev, next *Record) (bool, error) {
	payload, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("failed to encode verification record: %w", err)
	}

	applied, err := swapScript.Run(ctx, s.client, []string{s.key(prev.PrincipalID)},
		prev.Nonce, prev.Attempts, payload, s.ttl(next).Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return applied == 1, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var removed int64

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, err
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || !rec.ExpiresAt.Before(before) {
			continue
		}

		n, err := deleteScript.Run(ctx, s.client, []string{key}, rec.Nonce).Int64()
		if err != nil {
			return removed, err
		}
		removed += n
	}

	return removed, iter.Err()
}
