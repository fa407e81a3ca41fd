package presence

import "maps"

// Record is the shape of a service record exchanged with a Provider, both for
// the local announcement and for records describing other instances.
type Record struct {
	ServiceType string
	Name        string
	Properties  map[string]string
	ClientKey   string
}

// Id returns the value of the id property and whether it is present.
func (r Record) Id() (string, bool) {
	id, ok := r.Properties[IdProperty]
	return id, ok
}

// Clone returns a copy of r that shares no memory with it.
func (r Record) Clone() Record {
	r.Properties = maps.Clone(r.Properties)
	return r
}

// Provider is the local network discovery service performing the actual
// registration and peer detection.
//
// Register and Unregister only enqueue work: their completion is reported later
// through ProviderListener.ServiceUpdated and ProviderListener.ServiceRemoved
// for the local record. A non-nil error means the request was not accepted.
// Unregistering a key that was never confirmed registered must be harmless.
type Provider interface {
	// SetListener sets the receiver of all callbacks, must be called before Connect.
	SetListener(l ProviderListener)

	// Connect establishes the transport, it is idempotent.
	Connect() error
	// Disconnect tears down the transport, it is idempotent.
	Disconnect() error

	Register(record Record) error
	Unregister(clientKey string) error
}

// ProviderListener receives asynchronous callbacks from a Provider. Callbacks
// may be delivered from any goroutine.
type ProviderListener interface {
	// ServiceUpdated is called whenever a record, local or remote, becomes known or changes.
	ServiceUpdated(record Record)
	// ServiceRemoved is called whenever a record disappears.
	ServiceRemoved(record Record)
	// ConnectedToService is called once the transport connection is established.
	ConnectedToService()
}
