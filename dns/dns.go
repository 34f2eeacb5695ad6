// Package dns provides the reverse-DNS lookup recorded on connection
// traces. Failures are soft: a session without a PTR name is fine.
package dns

import (
	"context"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// Resolver performs PTR lookups against the system nameservers.
type Resolver struct {
	servers []string
	client  *mdns.Client
}

// NewResolver creates a resolver using /etc/resolv.conf servers,
// falling back to public DNS when none are configured.
func NewResolver() *Resolver {
	return &Resolver{
		servers: systemNameservers(),
		client:  &mdns.Client{Timeout: 2 * time.Second},
	}
}

// systemNameservers reads resolv.conf, defaulting to public resolvers.
func systemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if !strings.Contains(s, ":") {
			s = s + ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

// Reverse resolves the PTR name for ip. Returns an empty string when
// the address has no PTR record or the query fails.
func (r *Resolver) Reverse(ctx context.Context, ip net.IP) (string, error) {
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return "", err
	}

	m := new(mdns.Msg)
	m.SetQuestion(arpa, mdns.TypePTR)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, answer := range resp.Answer {
			if ptr, ok := answer.(*mdns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
		return "", nil
	}
	return "", lastErr
}
