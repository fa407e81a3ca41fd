package presence

import (
	"sync"
)

const testServiceType = "_lanpresence-test._tcp.local."

// fakeProvider records every request and tracks which one is outstanding.
// Confirmations are delivered explicitly by the tests.
type fakeProvider struct {
	lock sync.Mutex

	listener ProviderListener
	calls    []string

	registerErr   error
	unregisterErr error
	connectErr    error

	pending     string
	overlapping int
	registered  Record
}

func (p *fakeProvider) SetListener(l ProviderListener) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.listener = l
}

func (p *fakeProvider) Connect() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.calls = append(p.calls, "connect")
	return p.connectErr
}

func (p *fakeProvider) Disconnect() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.calls = append(p.calls, "disconnect")
	return nil
}

func (p *fakeProvider) Register(record Record) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.registerErr != nil {
		return p.registerErr
	}

	if p.pending != "" {
		p.overlapping++
	}

	p.calls = append(p.calls, "register")
	p.pending = "register"
	p.registered = record
	return nil
}

func (p *fakeProvider) Unregister(string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.unregisterErr != nil {
		return p.unregisterErr
	}

	if p.pending != "" {
		p.overlapping++
	}

	p.calls = append(p.calls, "unregister")
	p.pending = "unregister"
	return nil
}

// confirm delivers the confirmation of the outstanding request, if any.
func (p *fakeProvider) confirm() bool {
	p.lock.Lock()
	pending, record, listener := p.pending, p.registered, p.listener
	p.pending = ""
	p.lock.Unlock()

	switch pending {
	case "register":
		listener.ServiceUpdated(record)
		return true
	case "unregister":
		listener.ServiceRemoved(record)
		return true
	default:
		return false
	}
}

func (p *fakeProvider) requests() []string {
	p.lock.Lock()
	defer p.lock.Unlock()

	var out []string
	for _, call := range p.calls {
		if call == "register" || call == "unregister" {
			out = append(out, call)
		}
	}

	return out
}

func peerRecord(id, name string) Record {
	return Record{
		ServiceType: testServiceType,
		Name:        name,
		Properties:  map[string]string{IdProperty: id},
	}
}

// recordingListener collects every snapshot it receives.
type recordingListener struct {
	lock      sync.Mutex
	snapshots [][]string
	onNotify  func(ids []string)
}

func (l *recordingListener) VisiblePeersChanged(ids []string) {
	l.lock.Lock()
	l.snapshots = append(l.snapshots, ids)
	l.lock.Unlock()

	if l.onNotify != nil {
		l.onNotify(ids)
	}
}

func (l *recordingListener) received() [][]string {
	l.lock.Lock()
	defer l.lock.Unlock()

	return append([][]string(nil), l.snapshots...)
}
