package presence

import (
	"slices"
	"sync"

	lanpresence "github.com/devgianlu/go-lanpresence"
)

// Listener is notified whenever the set of visible peers changes. The slice
// is a private copy, listeners may keep or modify it.
//
// Listeners are compared by value: use pointer types.
type Listener interface {
	VisiblePeersChanged(ids []string)
}

// ListenerRegistry is the set of listeners attached to a Coordinator.
type ListenerRegistry struct {
	log lanpresence.Logger

	listeners     []Listener
	listenersLock sync.Mutex
}

func NewListenerRegistry(log lanpresence.Logger) *ListenerRegistry {
	return &ListenerRegistry{log: lanpresence.LoggerOrNull(log)}
}

// Add attaches l and reports whether it was not already attached.
func (r *ListenerRegistry) Add(l Listener) bool {
	r.listenersLock.Lock()
	defer r.listenersLock.Unlock()

	if slices.Contains(r.listeners, l) {
		return false
	}

	r.listeners = append(r.listeners, l)
	return true
}

// Remove detaches l and reports whether it was attached.
func (r *ListenerRegistry) Remove(l Listener) bool {
	r.listenersLock.Lock()
	defer r.listenersLock.Unlock()

	idx := slices.Index(r.listeners, l)
	if idx < 0 {
		return false
	}

	r.listeners = slices.Delete(r.listeners, idx, idx+1)
	return true
}

// Snapshot returns a copy of the attached listeners.
func (r *ListenerRegistry) Snapshot() []Listener {
	r.listenersLock.Lock()
	defer r.listenersLock.Unlock()

	return slices.Clone(r.listeners)
}

// Notify delivers ids to every attached listener. No lock is held while
// listeners run, a listener that panics does not prevent delivery to the others.
func (r *ListenerRegistry) Notify(ids []string) {
	for _, l := range r.Snapshot() {
		r.notifyOne(l, ids)
	}
}

func (r *ListenerRegistry) notifyOne(l Listener, ids []string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("error while executing peers listener: %v", rec)
		}
	}()

	l.VisiblePeersChanged(slices.Clone(ids))
}

// peerDispatcher applies peer set mutations and delivers the resulting
// snapshots in the order the mutations happened. Whichever goroutine finds
// the queue idle drains it, so delivery never happens under a lock and a
// listener may trigger further mutations without deadlocking.
type peerDispatcher struct {
	peers     *PeerSet
	listeners *ListenerRegistry
	metrics   *Metrics

	// tracking is cleared while disconnected, sightings are dropped then
	tracking bool

	pending  [][]string
	draining bool
	lock     sync.Mutex
}

// add makes id visible, unless peers are not being tracked.
func (d *peerDispatcher) add(id string) bool {
	return d.apply(func(s *PeerSet) bool { return d.tracking && s.Add(id) })
}

// setTracking starts or stops accepting sightings, stopping clears the set.
func (d *peerDispatcher) setTracking(tracking bool) bool {
	return d.apply(func(s *PeerSet) bool {
		d.tracking = tracking
		return !tracking && s.Clear()
	})
}

func (d *peerDispatcher) apply(mutate func(*PeerSet) bool) bool {
	d.lock.Lock()
	changed := mutate(d.peers)
	if changed {
		snapshot := d.peers.Snapshot()
		d.pending = append(d.pending, snapshot)
		d.metrics.setVisiblePeers(len(snapshot))
	}
	d.lock.Unlock()

	if changed {
		d.drain()
	}

	return changed
}

func (d *peerDispatcher) drain() {
	d.lock.Lock()
	if d.draining {
		d.lock.Unlock()
		return
	}

	d.draining = true
	for len(d.pending) > 0 {
		ids := d.pending[0]
		d.pending = d.pending[1:]

		d.lock.Unlock()
		d.listeners.Notify(ids)
		d.lock.Lock()
	}

	d.draining = false
	d.lock.Unlock()
}
