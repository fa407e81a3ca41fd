package zeroconf

import (
	"net"

	"github.com/grandcat/zeroconf"
)

// BuiltinRegistrar implements ServiceRegistrar using the grandcat/zeroconf library,
// which provides a pure-Go mDNS responder.
type BuiltinRegistrar struct {
	server *zeroconf.Server
	ifaces []net.Interface
}

// NewBuiltinRegistrar creates a new built-in mDNS service registrar.
// If ifaces is empty, the service will be advertised on all interfaces.
func NewBuiltinRegistrar(ifaces []net.Interface) *BuiltinRegistrar {
	return &BuiltinRegistrar{ifaces: ifaces}
}

// Register publishes the service using the built-in mDNS responder, replacing
// any previous registration.
func (b *BuiltinRegistrar) Register(name, serviceType, domain string, port int, txt []string) error {
	b.Unregister()

	server, err := zeroconf.Register(name, serviceType, domain, port, txt, b.ifaces)
	if err != nil {
		return err
	}

	b.server = server
	return nil
}

// Unregister stops the mDNS responder, which sends goodbye packets for the record.
func (b *BuiltinRegistrar) Unregister() {
	if b.server != nil {
		b.server.Shutdown()
		b.server = nil
	}
}

func (b *BuiltinRegistrar) Close() {
	b.Unregister()
}
