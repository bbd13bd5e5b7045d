// Package resolver implements an optional custom-DNS-server resolver
// (internal/config's Network.DNSServer), consulted instead of the OS stub
// resolver by the dial function internal/services.DialerFor builds. A
// fetcher dials through it only when transport.Request.DialContext is
// set; internal/request's Submit does not set that field, so requests
// submitted through the pipeline use the OS resolver. Trust-store keys are
// always keyed by the original hostname, not the resolved address, so
// this has no effect on TOFU identity.
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver looks up A/AAAA records against a single configured server.
type Resolver struct {
	server string // "host:port"; empty means "use the OS resolver"
	client *dns.Client
}

// New creates a resolver. If server is empty, LookupHost falls back to
// net.DefaultResolver.
func New(server string) *Resolver {
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

// LookupHost returns the IP addresses for host, as dotted/colon strings
// suitable for net.Dialer.DialContext.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if r.server == "" {
		return net.DefaultResolver.LookupHost(ctx, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			continue // try the other record type before giving up entirely
		}
		for _, rr := range reply.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				addrs = append(addrs, rec.A.String())
			case *dns.AAAA:
				addrs = append(addrs, rec.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolver: no records found for %q via %s", host, r.server)
	}
	return addrs, nil
}

// DialContext returns a net.Dialer.DialContext-compatible function that
// resolves through this resolver before dialing, for use as
// net.Dialer.Control is insufficient for custom-server resolution.
func (r *Resolver) DialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if r.server == "" {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := r.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}
}
