package upstream

import (
	"context"
	"net"
	"net/http"
	"tabs-api-go/logcolors"
	"time"

	"github.com/rs/dnscache"
	log "github.com/sirupsen/logrus"
)

// NewResolver returns a caching DNS resolver. Call RefreshDNS periodically
// to drop stale entries.
func NewResolver() *dnscache.Resolver {
	return &dnscache.Resolver{}
}

// RefreshDNS re-resolves cached hosts and clears those no longer in use.
func RefreshDNS(resolver *dnscache.Resolver) {
	resolver.Refresh(true)
	log.Debugf("%s Refreshed DNS cache", logcolors.LogDNS)
}

// NewTransport returns a pooled transport shared by every upstream client.
// With a resolver, host lookups go through the DNS cache.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			var lastErr error
			for _, ip := range ips {
				conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		}
	}
	return t
}
