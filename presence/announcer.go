package presence

import (
	"fmt"

	lanpresence "github.com/devgianlu/go-lanpresence"
)

// AnnouncementState is the state of the local announcement.
type AnnouncementState int

const (
	// StateUnregistered means no announcement is outstanding or pending.
	StateUnregistered AnnouncementState = iota
	// StateRegistering means a register request was sent and awaits confirmation.
	StateRegistering
	// StateRegistered means the provider confirmed that the record is live.
	StateRegistered
	// StateWaitingToUnregister means a revoke arrived while registering, the
	// record will be unregistered as soon as the registration is confirmed.
	StateWaitingToUnregister
	// StateUnregistering means an unregister request was sent and awaits confirmation.
	StateUnregistering
	// StateWaitingToRegister means a publish arrived while unregistering, the
	// record will be registered again as soon as the removal is confirmed.
	StateWaitingToRegister
)

func (s AnnouncementState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateWaitingToUnregister:
		return "waiting_to_unregister"
	case StateUnregistering:
		return "unregistering"
	case StateWaitingToRegister:
		return "waiting_to_register"
	default:
		return fmt.Sprintf("AnnouncementState(%d)", int(s))
	}
}

type announcementEvent int

const (
	eventPublish announcementEvent = iota
	eventRevoke
	eventSelfUpdated
	eventSelfRemoved
)

func (e announcementEvent) String() string {
	switch e {
	case eventPublish:
		return "publish"
	case eventRevoke:
		return "revoke"
	case eventSelfUpdated:
		return "self_updated"
	case eventSelfRemoved:
		return "self_removed"
	default:
		return fmt.Sprintf("announcementEvent(%d)", int(e))
	}
}

// announcer makes sure that at most one register or unregister request is
// outstanding at any time, deferring the opposite intent until the provider
// confirms the pending one. It is not safe for concurrent use, the owning
// Coordinator serializes access with its state lock.
type announcer struct {
	log      lanpresence.Logger
	provider Provider
	record   *LocalRecord
	metrics  *Metrics

	state AnnouncementState
	// closed stops new registrations, removals still settle
	closed bool
}

// handle feeds ev to the state machine. The provider call and the state
// change are applied together: if the provider refuses the request the state
// is left untouched and the error is returned.
func (a *announcer) handle(ev announcementEvent) error {
	from := a.state

	var to AnnouncementState
	var action func() error
	var ok bool

	switch {
	case from == StateUnregistered && ev == eventPublish:
		to, action, ok = StateRegistering, a.register, true
	case from == StateRegistering && ev == eventSelfUpdated:
		to, ok = StateRegistered, true
	case from == StateRegistering && ev == eventRevoke:
		to, ok = StateWaitingToUnregister, true
	case from == StateWaitingToUnregister && ev == eventSelfUpdated:
		to, action, ok = StateUnregistering, a.unregister, true
	case from == StateRegistered && ev == eventRevoke:
		to, action, ok = StateUnregistering, a.unregister, true
	case from == StateUnregistering && ev == eventPublish:
		to, ok = StateWaitingToRegister, true
	case from == StateUnregistering && ev == eventSelfRemoved:
		to, ok = StateUnregistered, true
	case from == StateWaitingToRegister && ev == eventSelfRemoved:
		to, action, ok = StateRegistering, a.register, true
	}

	if !ok {
		a.log.Debugf("ignoring %s event in %s state", ev, from)
		return nil
	} else if a.closed && to == StateRegistering {
		a.log.Debugf("not registering after close (%s)", ev)
		return nil
	}

	if action != nil {
		if err := action(); err != nil {
			return err
		}
	}

	a.state = to
	a.metrics.setState(to)
	a.log.Debugf("announcement state %s -> %s (%s)", from, to, ev)
	return nil
}

func (a *announcer) register() error {
	record := a.record.Record()
	err := a.provider.Register(record)
	a.metrics.providerCall("register", err)
	if err != nil {
		return fmt.Errorf("failed registering record: %w", err)
	}

	a.log.WithField("name", record.Name).Infof("registering local record")
	return nil
}

func (a *announcer) unregister() error {
	err := a.provider.Unregister(a.record.ClientKey())
	a.metrics.providerCall("unregister", err)
	if err != nil {
		return fmt.Errorf("failed unregistering record: %w", err)
	}

	a.log.Infof("unregistering local record")
	return nil
}
