package zeroconf

import (
	"fmt"
	"net"
)

// ServiceRegistrar handles mDNS service registration.
// Implementations can use different backends like built-in mDNS or avahi-daemon.
type ServiceRegistrar interface {
	// Register publishes the service via mDNS.
	// name: service instance name (e.g., "Alice")
	// serviceType: service type (e.g., "_lanpresence._tcp")
	// domain: domain to register in (e.g., "local.")
	// port: TCP port the service is listening on
	// txt: TXT record key=value pairs
	Register(name, serviceType, domain string, port int, txt []string) error

	// Unregister stops advertising the service, the registrar can be reused.
	Unregister()

	// Close stops advertising and releases all resources.
	Close()
}

// NewRegistrar creates the registrar for the named backend, "builtin" or "avahi".
func NewRegistrar(backend string, ifaces []net.Interface) (ServiceRegistrar, error) {
	switch backend {
	case "", "builtin":
		return NewBuiltinRegistrar(ifaces), nil
	case "avahi":
		if len(ifaces) > 0 {
			return nil, fmt.Errorf("avahi backend does not support specifying interfaces")
		}

		return NewAvahiRegistrar()
	default:
		return nil, fmt.Errorf("unknown zeroconf backend: %s", backend)
	}
}
