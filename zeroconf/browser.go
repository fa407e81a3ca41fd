package zeroconf

import (
	"context"
	"fmt"
	"net"

	"github.com/grandcat/zeroconf"
)

// Browser looks up the instances of a service type on the local network.
type Browser interface {
	// Browse sends the instances found to entries until ctx is done. It must
	// not block: the lookup runs in the background.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// BuiltinBrowser implements Browser with the grandcat/zeroconf resolver.
type BuiltinBrowser struct {
	ifaces []net.Interface
}

// NewBuiltinBrowser creates a browser querying on ifaces, or on all
// multicast interfaces if ifaces is empty.
func NewBuiltinBrowser(ifaces []net.Interface) *BuiltinBrowser {
	return &BuiltinBrowser{ifaces: ifaces}
}

func (b *BuiltinBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	var opts []zeroconf.ClientOption
	if len(b.ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(b.ifaces))
	}

	// a resolver holds its sockets until the browse context ends
	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		return fmt.Errorf("failed creating mDNS resolver: %w", err)
	}

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return fmt.Errorf("failed browsing for %s: %w", service, err)
	}

	return nil
}
