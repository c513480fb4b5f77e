package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func startDNS(t *testing.T, handler dns.Handler) (*dns.ClientConfig, func()) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go func() { _ = srv.ActivateAndServe() }()

	host, port, err := net.SplitHostPort(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	cfg := &dns.ClientConfig{Servers: []string{host}, Port: port}
	return cfg, func() { _ = srv.Shutdown() }
}

func srvRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("new rr %q: %v", s, err)
	}
	return rr
}

func newTestResolver(t *testing.T, cfg *dns.ClientConfig) *Resolver {
	t.Helper()
	r, err := NewResolver(WithClientConfig(cfg), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestDiscoverOrdering(t *testing.T) {
	answers := []dns.RR{
		srvRR(t, "_redis-server._tcp.lab.example.com. 60 IN SRV 1 5 6379 a.example.com."),
		srvRR(t, "_redis-server._tcp.lab.example.com. 60 IN SRV 1 10 6379 b.example.com."),
		srvRR(t, "_redis-server._tcp.lab.example.com. 60 IN SRV 2 1 6379 c.example.com."),
	}
	cfg, cleanup := startDNS(t, dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Answer = answers
		_ = w.WriteMsg(m)
	}))
	defer cleanup()

	eps, err := newTestResolver(t, cfg).Discover(context.Background(), "lab.example.com")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{"b.example.com", "a.example.com", "c.example.com"}
	if len(eps) != len(want) {
		t.Fatalf("expected %d endpoints, got %d", len(want), len(eps))
	}
	for i, host := range want {
		if eps[i].Host != host {
			t.Fatalf("endpoint %d: expected host %s, got %s", i, host, eps[i].Host)
		}
	}
}

func TestDiscoverAdditionalRecords(t *testing.T) {
	answers := []dns.RR{
		srvRR(t, "_redis-server._tcp.lab.example.com. 60 IN SRV 1 10 6379 a.example.com."),
		srvRR(t, "_redis-server._tcp.lab.example.com. 60 IN SRV 1 5 6380 b.example.com."),
	}
	extra := []dns.RR{
		srvRR(t, "a.example.com. 60 IN A 10.0.0.5"),
	}
	cfg, cleanup := startDNS(t, dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Answer = answers
		m.Extra = extra
		_ = w.WriteMsg(m)
	}))
	defer cleanup()

	eps, err := newTestResolver(t, cfg).Discover(context.Background(), "lab.example.com")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(eps))
	}
	if eps[0].Host != "10.0.0.5" || eps[0].Port != 6379 {
		t.Fatalf("expected additional-record address first, got %+v", eps[0])
	}
	if eps[1].Host != "b.example.com" || eps[1].Port != 6380 {
		t.Fatalf("expected bare target fallback, got %+v", eps[1])
	}
	if eps[0].Addr() != "10.0.0.5:6379" {
		t.Fatalf("addr: got %s", eps[0].Addr())
	}
}

func TestDiscoverNXDomain(t *testing.T) {
	cfg, cleanup := startDNS(t, dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	}))
	defer cleanup()

	_, err := newTestResolver(t, cfg).Discover(context.Background(), "nope.example.com")
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if qerr.Reason != "domain not found" {
		t.Fatalf("expected domain not found, got %q", qerr.Reason)
	}
}

func TestDiscoverNoAnswer(t *testing.T) {
	cfg, cleanup := startDNS(t, dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		_ = w.WriteMsg(m)
	}))
	defer cleanup()

	_, err := newTestResolver(t, cfg).Discover(context.Background(), "lab.example.com")
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if qerr.Reason != "no answer" {
		t.Fatalf("expected no answer, got %q", qerr.Reason)
	}
}

func TestDiscoverNoNameservers(t *testing.T) {
	r := newTestResolver(t, &dns.ClientConfig{Servers: nil, Port: "53"})
	_, err := r.Discover(context.Background(), "lab.example.com")
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if qerr.Reason != "no nameservers" {
		t.Fatalf("expected no nameservers, got %q", qerr.Reason)
	}
}

func TestDiscoverQueriesCustomService(t *testing.T) {
	var mu sync.Mutex
	var seen string
	answer := srvRR(t, "_etcd-server._tcp.lab.example.com. 60 IN SRV 1 1 2379 a.example.com.")
	cfg, cleanup := startDNS(t, dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		mu.Lock()
		seen = req.Question[0].Name
		mu.Unlock()
		m := new(dns.Msg)
		m.SetReply(req)
		m.Answer = []dns.RR{answer}
		_ = w.WriteMsg(m)
	}))
	defer cleanup()

	r, err := NewResolver(WithClientConfig(cfg), WithService("etcd"), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if _, err := r.Discover(context.Background(), "lab.example.com"); err != nil {
		t.Fatalf("discover: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen != "_etcd-server._tcp.lab.example.com." {
		t.Fatalf("unexpected query name %q", seen)
	}
}
