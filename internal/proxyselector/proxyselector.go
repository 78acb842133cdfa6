// Package proxyselector provides outbound shadowtls.Connector
// implementations for the remote handshake variant's cover-server pool,
// grounded on the original source's tcp_client_connector shape: resolve,
// then dial, with an optional rate limit in front of the dial step.
package proxyselector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/shoes-proxy/shoes/shadowtls"
)

// DirectConnector dials a cover server directly over TCP, resolving its
// host through whichever shadowtls.Resolver the caller supplies.
type DirectConnector struct {
	dialer  net.Dialer
	limiter *rate.Limiter // nil means no rate limiting
}

// NewDirectConnector returns an unthrottled DirectConnector.
func NewDirectConnector() *DirectConnector {
	return &DirectConnector{}
}

// NewRateLimitedConnector returns a DirectConnector that admits at most
// rps new outbound connections per second, with the given burst. This
// is useful when a single cover server should not see a connection
// storm if the inbound side is itself under load or attack.
func NewRateLimitedConnector(rps float64, burst int) *DirectConnector {
	return &DirectConnector{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Connect implements shadowtls.Connector.
func (c *DirectConnector) Connect(ctx context.Context, resolver shadowtls.Resolver, loc shadowtls.NetLocation) (net.Conn, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("proxyselector: rate limit wait for %s: %w", loc, err)
		}
	}

	ips, err := resolver.Resolve(ctx, loc.Host)
	if err != nil {
		return nil, fmt.Errorf("proxyselector: resolving %s: %w", loc.Host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("proxyselector: no addresses found for %s", loc.Host)
	}

	addr := net.JoinHostPort(ips[0].String(), strconv.Itoa(loc.Port))
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxyselector: dialing %s: %w", addr, err)
	}
	return conn, nil
}
