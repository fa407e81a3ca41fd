package zeroconf

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	avahiService         = "org.freedesktop.Avahi"
	avahiServerPath      = "/"
	avahiServerIface     = "org.freedesktop.Avahi.Server"
	avahiEntryGroupIface = "org.freedesktop.Avahi.EntryGroup"

	avahiIfUnspec    = int32(-1) // AVAHI_IF_UNSPEC
	avahiProtoUnspec = int32(-1) // AVAHI_PROTO_UNSPEC
)

// AvahiRegistrar implements ServiceRegistrar using avahi-daemon via D-Bus, so
// that the record is announced by the mDNS responder already running on the
// system.
type AvahiRegistrar struct {
	conn       *dbus.Conn
	entryGroup dbus.BusObject
	version    string
}

// NewAvahiRegistrar connects to the system D-Bus and checks that avahi-daemon
// is reachable.
func NewAvahiRegistrar() (*AvahiRegistrar, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	server := conn.Object(avahiService, avahiServerPath)

	var hostname string
	if err := server.Call(avahiServerIface+".GetHostName", 0).Store(&hostname); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to avahi-daemon (is it running?): %w", err)
	}

	return &AvahiRegistrar{conn: conn, version: avahiVersion(server)}, nil
}

func avahiVersion(server dbus.BusObject) string {
	var versionStr string
	if err := server.Call(avahiServerIface+".GetVersionString", 0).Store(&versionStr); err == nil {
		return versionStr
	}

	var apiVersion uint32
	if err := server.Call(avahiServerIface+".GetAPIVersion", 0).Store(&apiVersion); err == nil {
		return fmt.Sprintf("API v%d", apiVersion)
	}

	return "unknown"
}

// Version returns the avahi-daemon version string.
func (a *AvahiRegistrar) Version() string {
	return a.version
}

// Register publishes the service via avahi-daemon. The entry group of a
// previous registration is reset and reused.
func (a *AvahiRegistrar) Register(name, serviceType, domain string, port int, txt []string) error {
	if a.conn == nil {
		return fmt.Errorf("avahi registrar is closed")
	}

	if a.entryGroup == nil {
		var groupPath dbus.ObjectPath
		server := a.conn.Object(avahiService, avahiServerPath)
		if err := server.Call(avahiServerIface+".EntryGroupNew", 0).Store(&groupPath); err != nil {
			return fmt.Errorf("failed to create entry group: %w", err)
		}

		a.entryGroup = a.conn.Object(avahiService, groupPath)
	} else if err := a.entryGroup.Call(avahiEntryGroupIface+".Reset", 0).Err; err != nil {
		return fmt.Errorf("failed to reset entry group: %w", err)
	}

	txtBytes := make([][]byte, len(txt))
	for i, t := range txt {
		txtBytes[i] = []byte(t)
	}

	// AddService signature: iiussssqaay
	err := a.entryGroup.Call(avahiEntryGroupIface+".AddService", 0,
		avahiIfUnspec,
		avahiProtoUnspec,
		uint32(0), // flags
		name,
		serviceType,
		domain,
		"", // default hostname
		uint16(port),
		txtBytes,
	).Err
	if err != nil {
		return fmt.Errorf("failed to add service: %w", err)
	}

	if err := a.entryGroup.Call(avahiEntryGroupIface+".Commit", 0).Err; err != nil {
		return fmt.Errorf("failed to commit entry group: %w", err)
	}

	return nil
}

// Unregister frees the entry group, which unpublishes the service. The D-Bus
// connection stays open for later registrations.
func (a *AvahiRegistrar) Unregister() {
	if a.entryGroup != nil {
		_ = a.entryGroup.Call(avahiEntryGroupIface+".Free", 0).Err
		a.entryGroup = nil
	}
}

func (a *AvahiRegistrar) Close() {
	a.Unregister()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}
