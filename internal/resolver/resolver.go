// Package resolver implements shadowtls.Resolver against the standard
// library's resolver, the same abstraction boundary the original
// source draws around its own Resolver trait so the connector pool
// never has to know how names are turned into addresses.
package resolver

import (
	"context"
	"fmt"
	"net"
)

// DefaultResolver resolves hostnames using net.Resolver.
type DefaultResolver struct {
	r *net.Resolver
}

// New returns a DefaultResolver backed by net.DefaultResolver.
func New() *DefaultResolver {
	return &DefaultResolver{r: net.DefaultResolver}
}

// Resolve implements shadowtls.Resolver.
func (d *DefaultResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := d.r.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolver: looking up %s: %w", host, err)
	}
	return addrs, nil
}
