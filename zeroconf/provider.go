package zeroconf

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lanpresence "github.com/devgianlu/go-lanpresence"
	"github.com/devgianlu/go-lanpresence/presence"
	"github.com/devgianlu/go-lanpresence/tasks"
	"github.com/grandcat/zeroconf"
	"github.com/miekg/dns"
)

var (
	ErrProviderClosed    = errors.New("zeroconf provider closed")
	ErrNotConnected      = errors.New("zeroconf provider not connected")
	ErrAlreadyRegistered = errors.New("another record is already registered")
)

var _ presence.Provider = (*Provider)(nil)

type Options struct {
	// ServiceType is the DNS-SD service type to browse, e.g. "_app._tcp.local.", required.
	ServiceType string
	// Port is the port advertised with the local record, required.
	Port int

	// Registrar announces the local record, leave nil to use the built-in responder.
	Registrar ServiceRegistrar
	// Browser looks up the other instances, leave nil to use the built-in resolver.
	Browser Browser

	// BrowseInterval is the length of a browse round, defaults to 10 seconds.
	BrowseInterval time.Duration
	// ExpireRounds is how many consecutive rounds an instance may be missing
	// before it is reported as removed, defaults to 3.
	ExpireRounds int
	// RetryInterval is the initial delay before browsing again after a failure,
	// defaults to 500 milliseconds.
	RetryInterval time.Duration

	// Log is the logger to use, leave nil to disable logging.
	Log lanpresence.Logger
}

// Provider implements presence.Provider over mDNS/DNS-SD.
//
// Registrations are performed one at a time on a background worker and are
// confirmed to the listener once the registrar accepted them. Peers are found
// by browsing in rounds: grandcat/zeroconf does not report goodbye packets, so
// an instance is considered gone after it missed ExpireRounds rounds.
type Provider struct {
	log       lanpresence.Logger
	registrar ServiceRegistrar
	browser   Browser

	serviceType     string
	service, domain string
	port            int

	browseInterval time.Duration
	expireRounds   int
	retryInterval  time.Duration

	pool  *tasks.Pool
	loops sync.WaitGroup

	lock     sync.Mutex
	listener presence.ProviderListener
	cancel   context.CancelFunc
	active   *presence.Record
	ownKeys  map[string]struct{}
	closed   bool
}

func NewProvider(opts *Options) (*Provider, error) {
	serviceType, err := presence.NormalizeServiceType(opts.ServiceType)
	if err != nil {
		return nil, err
	}

	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid advertised port: %d", opts.Port)
	}

	p := &Provider{
		log:            lanpresence.LoggerOrNull(opts.Log),
		registrar:      opts.Registrar,
		browser:        opts.Browser,
		serviceType:    serviceType,
		port:           opts.Port,
		browseInterval: opts.BrowseInterval,
		expireRounds:   opts.ExpireRounds,
		retryInterval:  opts.RetryInterval,
		ownKeys:        map[string]struct{}{},
	}

	p.service, p.domain = presence.SplitServiceType(serviceType)

	if p.registrar == nil {
		p.registrar = NewBuiltinRegistrar(nil)
	}
	if p.browser == nil {
		p.browser = NewBuiltinBrowser(nil)
	}
	if p.browseInterval <= 0 {
		p.browseInterval = 10 * time.Second
	}
	if p.expireRounds <= 0 {
		p.expireRounds = 3
	}
	if p.retryInterval <= 0 {
		p.retryInterval = 500 * time.Millisecond
	}

	// a single worker keeps registrations in submission order
	p.pool = tasks.NewPool(p.log, 1, 16)
	return p, nil
}

func (p *Provider) SetListener(l presence.ProviderListener) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.listener = l
}

func (p *Provider) currentListener() presence.ProviderListener {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.listener
}

// Connect starts browsing for other instances.
func (p *Provider) Connect() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return ErrProviderClosed
	} else if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.loops.Add(1)
	go p.browseLoop(ctx)

	p.log.Debugf("browsing for %s", p.serviceType)
	return nil
}

// Disconnect stops browsing. It does not wait for the browse loop to exit and
// leaves the local registration in place, use Close for a full teardown.
func (p *Provider) Disconnect() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.log.Debugf("stopped browsing for %s", p.serviceType)
	}

	return nil
}

// Register announces record. The request is confirmed with a ServiceUpdated
// callback for record once the registrar accepted it.
func (p *Provider) Register(record presence.Record) error {
	txt, err := EncodeTXT(record.Properties)
	if err != nil {
		return fmt.Errorf("failed encoding record properties: %w", err)
	}

	name := record.Name
	if len(name) == 0 {
		name = lanpresence.ShortId(record.ClientKey)
	}

	service, domain := presence.SplitServiceType(record.ServiceType)

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return ErrProviderClosed
	} else if p.cancel == nil {
		return ErrNotConnected
	} else if p.active != nil && p.active.ClientKey != record.ClientKey {
		return ErrAlreadyRegistered
	}

	record = record.Clone()
	log := p.log.WithField("name", name)

	err = tasks.Submit(context.Background(), p.pool, func(context.Context) (struct{}, error) {
		return struct{}{}, p.registrar.Register(name, service, domain, p.port, txt)
	}, func(res tasks.Result[struct{}]) {
		if !res.Ok() {
			log.WithError(res.Err).Errorf("failed registering service (%s)", res.Status)
			return
		}

		log.Infof("registered service %s.%s on port %d", service, domain, p.port)
		if l := p.currentListener(); l != nil {
			l.ServiceUpdated(record.Clone())
		}
	})
	if err != nil {
		return fmt.Errorf("failed queueing registration: %w", err)
	}

	p.active = &record
	p.ownKeys[record.ClientKey] = struct{}{}
	return nil
}

// Unregister withdraws the record announced with clientKey. The request is
// always confirmed with a ServiceRemoved callback, even if nothing was registered.
func (p *Provider) Unregister(clientKey string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return ErrProviderClosed
	}

	var record presence.Record
	registered := p.active != nil && p.active.ClientKey == clientKey
	if registered {
		record = *p.active
	} else {
		record = presence.Record{
			ServiceType: p.serviceType,
			Properties:  map[string]string{presence.IdProperty: clientKey},
			ClientKey:   clientKey,
		}
	}

	err := tasks.Submit(context.Background(), p.pool, func(context.Context) (struct{}, error) {
		if !registered {
			return struct{}{}, tasks.ErrEmpty
		}

		p.registrar.Unregister()
		return struct{}{}, nil
	}, func(res tasks.Result[struct{}]) {
		if res.Status == tasks.StatusEmpty {
			p.log.Debugf("nothing registered for %s", lanpresence.ShortId(clientKey))
		} else {
			p.log.WithField("name", record.Name).Infof("unregistered service")
		}

		if l := p.currentListener(); l != nil {
			l.ServiceRemoved(record.Clone())
		}
	})
	if err != nil {
		return fmt.Errorf("failed queueing unregistration: %w", err)
	}

	if registered {
		p.active = nil
	}

	return nil
}

// Close stops browsing, runs the pending registration requests and releases
// the registrar. It must not be called from a listener callback.
func (p *Provider) Close() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}

	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.lock.Unlock()

	p.loops.Wait()
	p.pool.Close()
	p.registrar.Close()
}

func (p *Provider) isOwnKey(id string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	_, ok := p.ownKeys[id]
	return ok
}

type knownInstance struct {
	record presence.Record
	missed int
}

// browseState lives as long as a single connection.
type browseState struct {
	known     map[string]*knownInstance
	connected bool
}

func (p *Provider) browseLoop(ctx context.Context) {
	defer p.loops.Done()

	state := &browseState{known: map[string]*knownInstance{}}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryInterval
	bo.MaxInterval = max(p.browseInterval, p.retryInterval)
	bo.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		for {
			if err := p.browseRound(ctx, state); err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}

				return err
			}

			bo.Reset()
		}
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		p.log.WithError(err).Warnf("browse failed, retrying in %s", d)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.log.WithError(err).Errorf("browse loop stopped")
	}
}

// browseRound runs a single lookup lasting browseInterval, reporting new and
// changed instances as they arrive and expiring missing ones at the end.
func (p *Provider) browseRound(ctx context.Context, state *browseState) error {
	roundCtx, cancel := context.WithTimeout(ctx, p.browseInterval)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := p.browser.Browse(roundCtx, p.service, p.domain, entries); err != nil {
		return err
	}

	if !state.connected {
		state.connected = true
		if l := p.currentListener(); l != nil {
			l.ConnectedToService()
		}
	}

	seen := map[string]struct{}{}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}

			p.handleEntry(ctx, state, seen, entry)
		case <-roundCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}

			p.expireMissing(state, seen)
			return nil
		}
	}
}

func (p *Provider) handleEntry(ctx context.Context, state *browseState, seen map[string]struct{}, entry *zeroconf.ServiceEntry) {
	// nothing is reported for a connection that was dropped
	if entry == nil || ctx.Err() != nil {
		return
	}

	record := entryRecord(entry)

	// the local record is confirmed by the registration worker
	if id, ok := record.Id(); ok && p.isOwnKey(id) {
		return
	}

	key := entry.ServiceInstanceName()
	seen[key] = struct{}{}

	listener := p.currentListener()

	inst, ok := state.known[key]
	if ok {
		inst.missed = 0
		if maps.Equal(inst.record.Properties, record.Properties) {
			return
		}

		// the instance name was taken over by a different client
		oldId, _ := inst.record.Id()
		if newId, _ := record.Id(); oldId != newId && listener != nil {
			listener.ServiceRemoved(inst.record.Clone())
		}
	}

	state.known[key] = &knownInstance{record: record}
	p.log.WithField("name", record.Name).Tracef("found instance %s", key)

	if listener != nil {
		listener.ServiceUpdated(record.Clone())
	}
}

func (p *Provider) expireMissing(state *browseState, seen map[string]struct{}) {
	listener := p.currentListener()

	for key, inst := range state.known {
		if _, ok := seen[key]; ok {
			continue
		}

		inst.missed++
		if inst.missed < p.expireRounds {
			continue
		}

		delete(state.known, key)
		p.log.WithField("name", inst.record.Name).Tracef("instance %s expired", key)

		if listener != nil {
			listener.ServiceRemoved(inst.record.Clone())
		}
	}
}

func entryRecord(entry *zeroconf.ServiceEntry) presence.Record {
	return presence.Record{
		ServiceType: dns.Fqdn(entry.Service + "." + entry.Domain),
		Name:        entry.Instance,
		Properties:  DecodeTXT(entry.Text),
	}
}
