package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultService is the SRV service label queried when none is set.
	DefaultService = "redis"

	defaultTimeout = 5 * time.Second
)

// Endpoint describes one coordination-store replica discovered via SRV.
type Endpoint struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// Addr returns the host:port dial address of the endpoint.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// QueryError reports a failed SRV resolution together with a short
// classification of the cause.
type QueryError struct {
	Name   string // the fully qualified SRV name that was queried
	Reason string // "no nameservers", "domain not found", "no answer", ...
	Err    error  // underlying cause, may be nil
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery: SRV query %s failed: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("discovery: SRV query %s failed: %s", e.Name, e.Reason)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Resolver issues SRV queries for a service and turns the answers into an
// ordered endpoint list.
type Resolver struct {
	service string
	config  *dns.ClientConfig
	timeout time.Duration

	// exchange is swappable for tests.
	exchange func(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithService overrides the SRV service label (default "redis").
func WithService(service string) Option {
	return func(r *Resolver) { r.service = service }
}

// WithClientConfig supplies the nameserver configuration instead of reading
// /etc/resolv.conf.
func WithClientConfig(cfg *dns.ClientConfig) Option {
	return func(r *Resolver) { r.config = cfg }
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// NewResolver returns a Resolver backed by the system resolver
// configuration, unless overridden via options.
func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{service: DefaultService, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	if r.config == nil {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("discovery: read resolver config: %w", err)
		}
		r.config = cfg
	}
	if r.exchange == nil {
		c := &dns.Client{Timeout: r.timeout}
		r.exchange = func(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, error) {
			resp, _, err := c.ExchangeContext(ctx, m, addr)
			return resp, err
		}
	}
	return r, nil
}

// Discover resolves domain to the ordered list of store endpoints. The SRV
// name queried is _<service>-server._tcp.<domain>. The result is freshly
// computed on every call and sorted by priority ascending, weight
// descending, host ascending.
func (r *Resolver) Discover(ctx context.Context, domain string) ([]Endpoint, error) {
	name := dns.Fqdn(fmt.Sprintf("_%s-server._tcp.%s", r.service, domain))

	if len(r.config.Servers) == 0 {
		return nil, &QueryError{Name: name, Reason: "no nameservers"}
	}

	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeSRV)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.config.Servers {
		addr := net.JoinHostPort(server, r.config.Port)
		resp, err := r.exchange(ctx, m, addr)
		if err != nil {
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			eps := buildEndpoints(resp)
			if len(eps) == 0 {
				return nil, &QueryError{Name: name, Reason: "no answer"}
			}
			return eps, nil
		case dns.RcodeNameError:
			return nil, &QueryError{Name: name, Reason: "domain not found"}
		default:
			return nil, &QueryError{Name: name, Reason: "query refused", Err: fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])}
		}
	}
	return nil, &QueryError{Name: name, Reason: "no nameserver reachable", Err: lastErr}
}

// buildEndpoints converts a SRV response into sorted endpoints. Targets are
// resolved through the additional section when the response carries matching
// A/AAAA records, which saves a second round trip; otherwise the bare target
// name is used as the address.
func buildEndpoints(resp *dns.Msg) []Endpoint {
	addrs := make(map[string][]string)
	for _, rr := range resp.Extra {
		switch record := rr.(type) {
		case *dns.A:
			name := record.Header().Name
			addrs[name] = append(addrs[name], record.A.String())
		case *dns.AAAA:
			name := record.Header().Name
			addrs[name] = append(addrs[name], record.AAAA.String())
		}
	}

	var eps []Endpoint
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		if resolved, ok := addrs[srv.Target]; ok {
			for _, addr := range resolved {
				eps = append(eps, Endpoint{
					Host:     addr,
					Port:     srv.Port,
					Priority: srv.Priority,
					Weight:   srv.Weight,
				})
			}
			continue
		}
		eps = append(eps, Endpoint{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}

	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Priority != eps[j].Priority {
			return eps[i].Priority < eps[j].Priority
		}
		if eps[i].Weight != eps[j].Weight {
			return eps[i].Weight > eps[j].Weight
		}
		return eps[i].Host < eps[j].Host
	})
	return eps
}
