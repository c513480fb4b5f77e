package labenv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "lab/env"

	defaultOpTimeout = 5 * time.Second
	scanBatch        = 100
)

// Registry stores role to host mappings per environment. One Redis set per
// (environment, role) pair, keyed lab/env/<environment>/<role>.
type Registry struct {
	client  *redis.Client
	timeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithOpTimeout sets the per-operation timeout.
func WithOpTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// NewRegistry returns a Registry using the provided Redis client, normally
// the same connection the lock store uses.
func NewRegistry(client *redis.Client, opts ...Option) *Registry {
	r := &Registry{client: client, timeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func roleKey(env, role string) string {
	return fmt.Sprintf("%s/%s/%s", keyPrefix, env, role)
}

// Register adds host under role in the named environment.
func (r *Registry) Register(ctx context.Context, env, role, host string) error {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.SAdd(cctx, roleKey(env, role), host).Err(); err != nil {
		return fmt.Errorf("labenv: register %s/%s: %w", env, role, err)
	}
	return nil
}

// Unregister removes host from role in the named environment. With an
// empty host the whole role is removed. Unregistering something absent is
// a no-op.
func (r *Registry) Unregister(ctx context.Context, env, role, host string) error {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var err error
	if host == "" {
		err = r.client.Del(cctx, roleKey(env, role)).Err()
	} else {
		err = r.client.SRem(cctx, roleKey(env, role), host).Err()
	}
	if err != nil {
		return fmt.Errorf("labenv: unregister %s/%s: %w", env, role, err)
	}
	return nil
}

// View returns the role to hosts mapping of the named environment. Hosts
// are sorted for stable listing output. An undefined environment yields an
// empty map.
func (r *Registry) View(ctx context.Context, env string) (map[string][]string, error) {
	keys, err := r.scan(ctx, fmt.Sprintf("%s/%s/*", keyPrefix, env))
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	view := make(map[string][]string, len(keys))
	prefix := fmt.Sprintf("%s/%s/", keyPrefix, env)
	for _, key := range keys {
		role := strings.TrimPrefix(key, prefix)
		hosts, err := r.client.SMembers(cctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("labenv: view %s: %w", env, err)
		}
		if len(hosts) == 0 {
			continue
		}
		sort.Strings(hosts)
		view[role] = hosts
	}
	return view, nil
}

// Names returns the sorted names of all defined environments.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	keys, err := r.scan(ctx, keyPrefix+"/*")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, key := range keys {
		rest := strings.TrimPrefix(key, keyPrefix+"/")
		if env, _, ok := strings.Cut(rest, "/"); ok {
			seen[env] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for env := range seen {
		names = append(names, env)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Registry) scan(ctx context.Context, pattern string) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var cursor uint64
	var keys []string
	for {
		batch, next, err := r.client.Scan(cctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("labenv: scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}
