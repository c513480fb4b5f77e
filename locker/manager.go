package locker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sangoma/labcoord/metrics"
	"github.com/sangoma/labcoord/store"
)

var tracer = otel.Tracer("github.com/sangoma/labcoord/locker")

const (
	// keyPrefix isolates lock keys from other tenants of the store.
	keyPrefix = "lab/locks"

	// DefaultTTL is the record lifetime granted on acquire and restored by
	// every keepalive refresh.
	DefaultTTL = 30 * time.Second

	// DefaultPollInterval is the store polling cadence while waiting for a
	// contended resource. Waiting is the only place a caller blocks, and it
	// is always bounded by a deadline.
	DefaultPollInterval = 500 * time.Millisecond

	// ttlGrace extends the default contention-wait deadline slightly past
	// the observed record TTL so an expiry on the boundary is not missed.
	ttlGrace = time.Second
)

func makeKey(name string) string {
	return path.Join(keyPrefix, name)
}

// Key returns the namespaced store key for a resource name.
func Key(name string) string {
	return makeKey(name)
}

// Manager coordinates exclusive locks for one process session. It owns the
// record of locks held locally and runs at most one keepalive goroutine,
// started lazily on the first acquisition. Construct one Manager per
// session and pass it around explicitly.
type Manager struct {
	store store.Store
	log   zerolog.Logger
	ttl   time.Duration
	poll  time.Duration
	user  string

	traceEnabled bool

	mu        sync.Mutex
	held      map[string]string // key -> holder identity
	kaRunning bool
	kaStop    chan struct{}
	kaDone    chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for lock lifecycle events.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithTTL overrides the lock record TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithPollInterval overrides the contention-wait polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

// WithUser sets the default user component of the holder identity.
func WithUser(user string) Option {
	return func(m *Manager) { m.user = user }
}

// WithTracing enables OpenTelemetry spans around lock operations.
func WithTracing() Option {
	return func(m *Manager) { m.traceEnabled = true }
}

// New returns a Manager using the given store.
func New(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store: st,
		log:   zerolog.Nop(),
		ttl:   DefaultTTL,
		poll:  DefaultPollInterval,
		held:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type acquireOptions struct {
	user       string
	timeout    time.Duration
	hasTimeout bool
}

// AcquireOption configures a single Acquire call.
type AcquireOption func(*acquireOptions)

// AsUser overrides the user component of the holder identity for this
// acquisition.
func AsUser(user string) AcquireOption {
	return func(o *acquireOptions) { o.user = user }
}

// WithWaitTimeout bounds the contention wait explicitly instead of deriving
// the deadline from the current record's remaining TTL.
func WithWaitTimeout(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.timeout = d
		o.hasTimeout = true
	}
}

// Acquire obtains the exclusive lock on name, returning the store key and
// the holder identity written to it. If the resource is held elsewhere the
// call blocks, polling the store, until the record disappears or the
// deadline elapses: the caller's explicit timeout if given, otherwise the
// record's remaining TTL plus a small grace period. A deadline lapse or a
// lost create race yields *ResourceLockedError carrying the current
// holder. Acquiring a name this session already holds yields ErrAlreadyHeld.
func (m *Manager) Acquire(ctx context.Context, name string, opts ...AcquireOption) (string, string, error) {
	if m.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Manager.Acquire",
			trace.WithAttributes(attribute.String("lock.name", name)))
		defer span.End()
	}

	var o acquireOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := makeKey(name)
	m.mu.Lock()
	_, self := m.held[key]
	m.mu.Unlock()
	if self {
		return "", "", fmt.Errorf("%w: %s", ErrAlreadyHeld, name)
	}

	user := o.user
	if user == "" {
		user = m.user
	}
	holder := Identity(user)

	rec, ok, err := m.store.Read(ctx, key)
	if err != nil {
		return "", "", err
	}
	if ok {
		if err := m.waitForRelease(ctx, name, key, rec, o); err != nil {
			var locked *ResourceLockedError
			if errors.As(err, &locked) {
				metrics.ContendedCounter.Inc()
			}
			return "", "", err
		}
	}

	m.log.Info().Str("key", key).Str("holder", holder).Msg("acquiring lock")
	if err := m.store.Create(ctx, key, holder, m.ttl); err != nil {
		if errors.Is(err, store.ErrExists) {
			// Another session won the race between our read and this
			// create. Surface the winner instead of retrying the wait.
			metrics.ContendedCounter.Inc()
			locked := &ResourceLockedError{Name: name, Key: key}
			if cur, ok, rerr := m.store.Read(ctx, key); rerr == nil && ok {
				locked.Holder = cur.Holder
			}
			return "", "", locked
		}
		return "", "", err
	}

	m.mu.Lock()
	m.held[key] = holder
	m.ensureKeepaliveLocked()
	m.mu.Unlock()

	metrics.AcquireCounter.Inc()
	metrics.HeldGauge.Inc()
	m.log.Debug().Str("key", key).Str("holder", holder).Msg("locked")
	return key, holder, nil
}

// waitForRelease polls until the record under key disappears or the wait
// deadline elapses. A nil return means the resource looked free at the
// last observation.
func (m *Manager) waitForRelease(ctx context.Context, name, key string, rec store.Record, o acquireOptions) error {
	locked := &ResourceLockedError{Name: name, Key: key, Holder: rec.Holder}

	var deadline time.Duration
	switch {
	case o.hasTimeout:
		deadline = o.timeout
	case rec.TTL > 0:
		deadline = rec.TTL + ttlGrace
	default:
		// Record without expiry and no caller deadline: waiting would be
		// unbounded, so fail immediately.
		return locked
	}

	m.log.Error().Str("key", key).Str("holder", rec.Holder).Dur("wait", deadline).
		Msg("resource is locked, waiting for lock to expire")

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	tick := time.NewTicker(m.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			cur, ok, err := m.store.Read(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			locked.Holder = cur.Holder
			return locked
		case <-tick.C:
			_, ok, err := m.store.Read(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
	}
}

// Release drops the lock on name. Releasing a name this session does not
// hold is a no-op, which keeps double releases and releases after a lost
// lock harmless.
func (m *Manager) Release(ctx context.Context, name string) error {
	if m.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Manager.Release",
			trace.WithAttributes(attribute.String("lock.name", name)))
		defer span.End()
	}

	key := makeKey(name)
	m.mu.Lock()
	holder, ok := m.held[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.store.Delete(ctx, key, holder); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()

	metrics.ReleaseCounter.Inc()
	metrics.HeldGauge.Dec()
	m.log.Debug().Str("key", key).Str("holder", holder).Msg("released lock")
	return nil
}

// ReleaseAll stops the keepalive goroutine, waits for it to exit, and then
// deletes every record this session holds. After it returns no further
// refresh attempts are made and the local registry is empty. Delete
// failures are surfaced, not swallowed.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	if m.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Manager.ReleaseAll")
		defer span.End()
	}

	m.mu.Lock()
	var done chan struct{}
	if m.kaRunning {
		close(m.kaStop)
		m.kaRunning = false
		done = m.kaDone
	}
	snapshot := make(map[string]string, len(m.held))
	for key, holder := range m.held {
		snapshot[key] = holder
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	// A plain group, not WithContext: one key's delete failure must not
	// cancel the in-flight deletes of unrelated keys.
	var g errgroup.Group
	for key, holder := range snapshot {
		key, holder := key, holder
		g.Go(func() error {
			return m.store.Delete(ctx, key, holder)
		})
	}
	err := g.Wait()

	m.mu.Lock()
	for key := range snapshot {
		if _, ok := m.held[key]; ok {
			delete(m.held, key)
			metrics.ReleaseCounter.Inc()
			metrics.HeldGauge.Dec()
		}
	}
	m.mu.Unlock()
	return err
}

// IsHeld reports whether this session currently holds the lock on name.
func (m *Manager) IsHeld(name string) bool {
	key := makeKey(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// Held returns the resource names currently locked by this session,
// sorted for stable output.
func (m *Manager) Held() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.held))
	for key := range m.held {
		names = append(names, strings.TrimPrefix(key, keyPrefix+"/"))
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// ensureKeepaliveLocked starts the keepalive goroutine unless one is
// already alive. Callers must hold m.mu.
func (m *Manager) ensureKeepaliveLocked() {
	if m.kaRunning {
		return
	}
	m.kaRunning = true
	m.kaStop = make(chan struct{})
	m.kaDone = make(chan struct{})
	go m.keepalive(m.kaStop, m.kaDone)
}

// keepalive refreshes the TTL of every held record once per ttl/2 period.
// The half period guarantees at least one refresh lands before expiry even
// if a cycle is delayed by a full period. The loop exits when signalled or
// when no locks remain.
func (m *Manager) keepalive(stop, done chan struct{}) {
	defer close(done)

	m.log.Debug().Dur("interval", m.ttl/2).Msg("keepalive started")
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			m.log.Debug().Msg("keepalive stopped")
			return
		case <-ticker.C:
			m.mu.Lock()
			if len(m.held) == 0 {
				m.kaRunning = false
				m.mu.Unlock()
				m.log.Debug().Msg("keepalive idle, exiting")
				return
			}
			snapshot := make(map[string]string, len(m.held))
			for key, holder := range m.held {
				snapshot[key] = holder
			}
			m.mu.Unlock()

			for key, holder := range snapshot {
				select {
				case <-stop:
					return
				default:
				}
				m.refreshOne(key, holder)
			}
		}
	}
}

func (m *Manager) refreshOne(key, holder string) {
	err := m.store.Refresh(context.Background(), key, holder, m.ttl)
	switch {
	case err == nil:
		metrics.RefreshCounter.Inc()
		m.log.Debug().Str("key", key).Msg("refreshed lock")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotOwner):
		// The record expired or was taken from us. Drop it locally so it
		// is never refreshed against a foreign record and a later release
		// is a safe no-op.
		metrics.LostCounter.Inc()
		m.log.Error().Str("key", key).Str("holder", holder).Err(err).
			Msg("lock lost before release")
		m.mu.Lock()
		if _, ok := m.held[key]; ok {
			delete(m.held, key)
			metrics.HeldGauge.Dec()
		}
		m.mu.Unlock()
	default:
		// Transient store trouble: keep the key and retry next cycle.
		m.log.Warn().Str("key", key).Err(err).Msg("keepalive refresh failed")
	}
}
