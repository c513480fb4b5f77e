package store

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 5 * time.Second

var readScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
    return false
end
return {v, redis.call("PTTL", KEYS[1])}
`)

var refreshScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
    return -2
end
if v ~= ARGV[1] then
    return -1
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

var deleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements Store using a Redis backend.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithOpTimeout sets the per-operation timeout for store calls.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *Redis) { s.timeout = d }
}

// NewRedis returns a Store using the provided Redis client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{client: client, timeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying Redis client so that sibling subsystems
// sharing the coordination store can reuse the connection.
func (s *Redis) Client() *redis.Client { return s.client }

// Close closes the underlying connection.
func (s *Redis) Close() error { return s.client.Close() }

// Read implements Store.Read. Value and remaining TTL are fetched in a
// single script so a key expiring mid-read cannot be mistaken for a
// record without expiry.
func (s *Redis) Read(ctx context.Context, key string) (Record, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := readScript.Run(cctx, s.client, []string{key}).Slice()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store: read %s: %w", key, err)
	}
	if len(res) != 2 {
		return Record{}, false, fmt.Errorf("store: read %s: unexpected reply %v", key, res)
	}
	holder, ok := res[0].(string)
	if !ok {
		return Record{}, false, fmt.Errorf("store: read %s: unexpected holder %v", key, res[0])
	}
	ttlMillis, ok := res[1].(int64)
	if !ok {
		return Record{}, false, fmt.Errorf("store: read %s: unexpected ttl %v", key, res[1])
	}
	var ttl time.Duration
	if ttlMillis > 0 {
		ttl = time.Duration(ttlMillis) * time.Millisecond
	}
	return Record{Key: key, Holder: holder, TTL: ttl}, true, nil
}

// Create implements Store.Create using SET NX with expiry.
func (s *Redis) Create(ctx context.Context, key, holder string, ttl time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.client.SetNX(cctx, key, holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("store: create %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	return nil
}

// Refresh implements Store.Refresh with a check-and-expire script so the
// TTL is only extended while the record is still ours.
func (s *Redis) Refresh(ctx context.Context, key, holder string, ttl time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := refreshScript.Run(cctx, s.client, []string{key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("store: refresh %s: %w", key, err)
	}
	switch res {
	case -2:
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	case -1:
		return fmt.Errorf("%w: %s", ErrNotOwner, key)
	}
	return nil
}

// Delete implements Store.Delete. The record is removed only while still
// owned by holder; absent or foreign records are left alone.
func (s *Redis) Delete(ctx context.Context, key, holder string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := deleteScript.Run(cctx, s.client, []string{key}, holder).Result()
	if err == redis.Nil {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}
