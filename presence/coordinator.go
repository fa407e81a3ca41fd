package presence

import (
	"errors"
	"fmt"
	"sync"

	lanpresence "github.com/devgianlu/go-lanpresence"
	"go.uber.org/multierr"
)

var ErrClosed = errors.New("coordinator closed")

type Options struct {
	// ServiceType is the DNS-SD service type shared by all instances of the
	// application, e.g. "_app._tcp.local.", required.
	ServiceType string
	// ClientKey identifies this client, leave empty to generate a random one.
	ClientKey string

	// Log is the logger to use, leave nil to disable logging.
	Log lanpresence.Logger
	// Metrics records activity, leave nil to disable metrics.
	Metrics *Metrics
	// StateChanged is called after every announcement state transition, outside
	// of any lock. Under concurrent use calls may arrive out of order, State is
	// authoritative.
	StateChanged func(AnnouncementState)
}

// Coordinator announces this client on the local network through a Provider
// and keeps track of the peers running the same application.
type Coordinator struct {
	log          lanpresence.Logger
	provider     Provider
	stateChanged func(AnnouncementState)

	// stateLock guards record, ann and closed, and serializes all provider
	// requests. It is never held while listeners run.
	stateLock sync.Mutex
	record    *LocalRecord
	ann       announcer
	closed    bool

	listeners *ListenerRegistry
	peers     *peerDispatcher
}

func NewCoordinator(provider Provider, opts *Options) (*Coordinator, error) {
	if provider == nil {
		return nil, fmt.Errorf("missing provider")
	}

	if opts == nil {
		opts = &Options{}
	}

	clientKey := opts.ClientKey
	if len(clientKey) == 0 {
		clientKey = lanpresence.NewClientKey()
	}

	record, err := NewLocalRecord(opts.ServiceType, clientKey)
	if err != nil {
		return nil, fmt.Errorf("failed creating local record: %w", err)
	}

	log := lanpresence.LoggerOrNull(opts.Log).WithField("client", lanpresence.ShortId(clientKey))

	c := &Coordinator{
		log:          log,
		provider:     provider,
		stateChanged: opts.StateChanged,
		record:       record,
		listeners:    NewListenerRegistry(log),
	}
	c.ann = announcer{log: log, provider: provider, record: record, metrics: opts.Metrics}
	c.peers = &peerDispatcher{peers: NewPeerSet(), listeners: c.listeners, metrics: opts.Metrics}

	opts.Metrics.setState(StateUnregistered)
	opts.Metrics.setVisiblePeers(0)

	provider.SetListener(c)
	return c, nil
}

// LocalId returns the client key announced in the id property.
func (c *Coordinator) LocalId() string {
	return c.record.ClientKey()
}

func (c *Coordinator) ServiceType() string {
	return c.record.ServiceType()
}

// DisplayName returns the name used for the latest publish.
func (c *Coordinator) DisplayName() string {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.record.DisplayName()
}

// State returns the current announcement state.
func (c *Coordinator) State() AnnouncementState {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.ann.state
}

// SetProperty sets an extra property on the local record, it is announced
// with the next registration.
func (c *Coordinator) SetProperty(key, value string) error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.record.SetProperty(key, value)
}

// Publish announces this client with the given display name. Calling it while
// already announced is a no-op, calling it while a removal is in flight
// registers again once the removal is confirmed.
func (c *Coordinator) Publish(displayName string) error {
	c.stateLock.Lock()
	if c.closed {
		c.stateLock.Unlock()
		return ErrClosed
	}

	c.log.Debugf("publish announcement as %q", displayName)
	c.record.SetDisplayName(displayName)
	return c.handleLocked(eventPublish)
}

// Revoke withdraws the announcement. It is safe to call when nothing is published.
func (c *Coordinator) Revoke() error {
	c.stateLock.Lock()
	if c.closed {
		c.stateLock.Unlock()
		return ErrClosed
	}

	c.log.Debugf("revoke announcement")
	return c.handleLocked(eventRevoke)
}

// handleLocked feeds ev to the state machine, c.stateLock must be held and is
// released before returning.
func (c *Coordinator) handleLocked(ev announcementEvent) error {
	from := c.ann.state
	err := c.ann.handle(ev)
	to := c.ann.state
	c.stateLock.Unlock()

	if from != to && c.stateChanged != nil {
		c.stateChanged(to)
	}

	return err
}

// Connect connects the provider, a prerequisite for announcing and for
// receiving peer updates.
func (c *Coordinator) Connect() error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.log.Debugf("connecting to discovery provider")
	c.peers.setTracking(true)
	if err := c.provider.Connect(); err != nil {
		return fmt.Errorf("failed connecting discovery provider: %w", err)
	}

	return nil
}

// Disconnect disconnects the provider. Peers are no longer tracked, so the
// visible set is cleared.
func (c *Coordinator) Disconnect() error {
	c.stateLock.Lock()
	err := c.disconnectLocked()
	c.stateLock.Unlock()

	c.peers.setTracking(false)
	return err
}

func (c *Coordinator) disconnectLocked() error {
	c.log.Debugf("disconnecting from discovery provider")
	if err := c.provider.Disconnect(); err != nil {
		return fmt.Errorf("failed disconnecting discovery provider: %w", err)
	}

	return nil
}

// Close withdraws the announcement and disconnects the provider. The
// coordinator cannot be used afterwards, Close is idempotent.
func (c *Coordinator) Close() error {
	c.stateLock.Lock()
	if c.closed {
		c.stateLock.Unlock()
		return nil
	}

	c.closed = true
	c.ann.closed = true

	var err error
	from := c.ann.state
	switch from {
	case StateRegistered:
		err = multierr.Append(err, c.ann.handle(eventRevoke))
	case StateRegistering, StateWaitingToUnregister:
		// the confirmation may never be processed after disconnecting
		if uerr := c.ann.unregister(); uerr != nil {
			err = multierr.Append(err, uerr)
		} else {
			c.ann.state = StateUnregistering
			c.ann.metrics.setState(StateUnregistering)
		}
	case StateWaitingToRegister:
		// the removal is in flight already, the queued publish is dropped
		c.ann.state = StateUnregistering
		c.ann.metrics.setState(StateUnregistering)
	}

	err = multierr.Append(err, c.disconnectLocked())
	to := c.ann.state
	c.stateLock.Unlock()

	if from != to && c.stateChanged != nil {
		c.stateChanged(to)
	}

	c.peers.setTracking(false)
	c.log.Debugf("coordinator closed")
	return err
}

// VisibleIds returns a snapshot of the peers currently visible.
func (c *Coordinator) VisibleIds() []string {
	return c.peers.peers.Snapshot()
}

// AddListener attaches l, attaching the same listener twice has no effect.
func (c *Coordinator) AddListener(l Listener) {
	c.listeners.Add(l)
}

// RemoveListener detaches l, detaching an unknown listener has no effect.
func (c *Coordinator) RemoveListener(l Listener) {
	c.listeners.Remove(l)
}

// classify extracts the client id of record. It returns false if the record
// must be ignored.
func (c *Coordinator) classify(record Record, what string) (id string, self bool, ok bool) {
	if !c.record.IsSameServiceType(record) {
		c.log.Tracef("ignoring %s record of foreign service type %s", what, record.ServiceType)
		c.ann.metrics.ignoredCallback("foreign_service")
		return "", false, false
	}

	id, ok = record.Id()
	if !ok || len(id) == 0 {
		c.log.Warnf("ignoring %s record %q without %s property", what, record.Name, IdProperty)
		c.ann.metrics.ignoredCallback("missing_id")
		return "", false, false
	}

	return id, c.record.IsSelf(record), true
}

// ServiceUpdated implements ProviderListener.
func (c *Coordinator) ServiceUpdated(record Record) {
	id, self, ok := c.classify(record, "updated")
	if !ok {
		return
	}

	c.log.WithField("name", record.Name).Tracef("service updated: %s (self: %t)", lanpresence.ShortId(id), self)

	if self {
		c.selfEvent(eventSelfUpdated)
		return
	}

	if c.peers.add(id) {
		c.log.Debugf("peer %s is now visible", lanpresence.ShortId(id))
	}
}

// ServiceRemoved implements ProviderListener.
func (c *Coordinator) ServiceRemoved(record Record) {
	id, self, ok := c.classify(record, "removed")
	if !ok {
		return
	}

	c.log.WithField("name", record.Name).Tracef("service removed: %s (self: %t)", lanpresence.ShortId(id), self)

	if self {
		c.selfEvent(eventSelfRemoved)
		return
	}

	if c.peers.apply(func(s *PeerSet) bool { return s.Remove(id) }) {
		c.log.Debugf("peer %s is no longer visible", lanpresence.ShortId(id))
	}
}

// ConnectedToService implements ProviderListener.
func (c *Coordinator) ConnectedToService() {
	c.log.Debugf("connected to discovery provider")
}

func (c *Coordinator) selfEvent(ev announcementEvent) {
	c.stateLock.Lock()
	if err := c.handleLocked(ev); err != nil {
		c.log.WithError(err).Errorf("failed handling %s event", ev)
	}
}
