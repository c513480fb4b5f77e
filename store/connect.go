package store

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sangoma/labcoord/discovery"
)

const defaultDialTimeout = 3 * time.Second

// EndpointResolver yields the ordered list of store endpoints for a domain.
// *discovery.Resolver satisfies it.
type EndpointResolver interface {
	Discover(ctx context.Context, domain string) ([]discovery.Endpoint, error)
}

type connectOptions struct {
	resolver    EndpointResolver
	dialTimeout time.Duration
	storeOpts   []RedisOption
}

// ConnectOption configures Connect.
type ConnectOption func(*connectOptions)

// WithResolver overrides the SRV resolver used for endpoint discovery.
func WithResolver(r EndpointResolver) ConnectOption {
	return func(o *connectOptions) { o.resolver = r }
}

// WithDialTimeout bounds each per-endpoint connection attempt.
func WithDialTimeout(d time.Duration) ConnectOption {
	return func(o *connectOptions) { o.dialTimeout = d }
}

// WithStoreOptions passes options through to the resulting Redis store.
func WithStoreOptions(opts ...RedisOption) ConnectOption {
	return func(o *connectOptions) { o.storeOpts = append(o.storeOpts, opts...) }
}

// Connect discovers the store cluster behind domain and connects to the
// first endpoint, in discovery order, that answers a ping. It returns
// ErrUnavailable when discovery yields no endpoints or every attempt
// fails; discovery failures themselves are returned as-is.
func Connect(ctx context.Context, domain string, opts ...ConnectOption) (*Redis, error) {
	o := connectOptions{dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		r, err := discovery.NewResolver()
		if err != nil {
			return nil, err
		}
		o.resolver = r
	}

	endpoints, err := o.resolver.Discover(ctx, domain)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: discovery returned no endpoints for %s", ErrUnavailable, domain)
	}

	var lastErr error
	for _, ep := range endpoints {
		client := redis.NewClient(&redis.Options{
			Addr:        ep.Addr(),
			DialTimeout: o.dialTimeout,
		})
		cctx, cancel := context.WithTimeout(ctx, o.dialTimeout)
		err := client.Ping(cctx).Err()
		cancel()
		if err == nil {
			return NewRedis(client, o.storeOpts...), nil
		}
		lastErr = err
		_ = client.Close()
	}
	return nil, fmt.Errorf("%w: all %d endpoints for %s failed: %v",
		ErrUnavailable, len(endpoints), domain, lastErr)
}
