package presence

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	lanpresence "github.com/devgianlu/go-lanpresence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnnouncer(t *testing.T, state AnnouncementState) (*announcer, *fakeProvider) {
	t.Helper()

	record, err := NewLocalRecord(testServiceType, "self-key")
	require.NoError(t, err)

	provider := &fakeProvider{}
	return &announcer{log: &lanpresence.NullLogger{}, provider: provider, record: record, state: state}, provider
}

func TestAnnouncerTransitions(t *testing.T) {
	states := []AnnouncementState{
		StateUnregistered, StateRegistering, StateRegistered,
		StateWaitingToUnregister, StateUnregistering, StateWaitingToRegister,
	}
	events := []announcementEvent{eventPublish, eventRevoke, eventSelfUpdated, eventSelfRemoved}

	type transition struct {
		to   AnnouncementState
		call string
	}

	table := map[AnnouncementState]map[announcementEvent]transition{
		StateUnregistered:        {eventPublish: {StateRegistering, "register"}},
		StateRegistering:         {eventSelfUpdated: {StateRegistered, ""}, eventRevoke: {StateWaitingToUnregister, ""}},
		StateWaitingToUnregister: {eventSelfUpdated: {StateUnregistering, "unregister"}},
		StateRegistered:          {eventRevoke: {StateUnregistering, "unregister"}},
		StateUnregistering:       {eventPublish: {StateWaitingToRegister, ""}, eventSelfRemoved: {StateUnregistered, ""}},
		StateWaitingToRegister:   {eventSelfRemoved: {StateRegistering, "register"}},
	}

	for _, from := range states {
		for _, ev := range events {
			t.Run(fmt.Sprintf("%s/%s", from, ev), func(t *testing.T) {
				a, provider := newTestAnnouncer(t, from)
				require.NoError(t, a.handle(ev))

				want, ok := table[from][ev]
				if !ok {
					assert.Equal(t, from, a.state, "unlisted event must be a no-op")
					assert.Empty(t, provider.requests())
					return
				}

				assert.Equal(t, want.to, a.state)
				if want.call == "" {
					assert.Empty(t, provider.requests())
				} else {
					assert.Equal(t, []string{want.call}, provider.requests())
				}
			})
		}
	}
}

func TestAnnouncerFailedRequestKeepsState(t *testing.T) {
	a, provider := newTestAnnouncer(t, StateUnregistered)
	provider.registerErr = errors.New("transport not connected")

	err := a.handle(eventPublish)
	require.ErrorIs(t, err, provider.registerErr)
	assert.Equal(t, StateUnregistered, a.state)

	a, provider = newTestAnnouncer(t, StateRegistered)
	provider.unregisterErr = errors.New("transport not connected")

	err = a.handle(eventRevoke)
	require.ErrorIs(t, err, provider.unregisterErr)
	assert.Equal(t, StateRegistered, a.state)

	// the deferred unregister fails as well, the next confirmation can retry it
	a, provider = newTestAnnouncer(t, StateWaitingToUnregister)
	provider.unregisterErr = errors.New("transport not connected")

	require.Error(t, a.handle(eventSelfUpdated))
	assert.Equal(t, StateWaitingToUnregister, a.state)
}

func TestAnnouncerSingleOutstandingRequest(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 200; round++ {
		a, provider := newTestAnnouncer(t, StateUnregistered)

		// the announcer is driven directly, confirmations go through a stub listener
		provider.listener = announcerListener{a}

		for step := 0; step < 50; step++ {
			switch rng.IntN(3) {
			case 0:
				require.NoError(t, a.handle(eventPublish))
			case 1:
				require.NoError(t, a.handle(eventRevoke))
			case 2:
				provider.confirm()
			}

			require.Zero(t, provider.overlapping, "round %d step %d: overlapping requests", round, step)
		}

		// nothing outstanding means the machine settled in a stable state
		for provider.confirm() {
			require.Zero(t, provider.overlapping)
		}
		assert.Contains(t, []AnnouncementState{StateRegistered, StateUnregistered}, a.state)
	}
}

type announcerListener struct {
	a *announcer
}

func (l announcerListener) ServiceUpdated(Record) { _ = l.a.handle(eventSelfUpdated) }
func (l announcerListener) ServiceRemoved(Record) { _ = l.a.handle(eventSelfRemoved) }
func (l announcerListener) ConnectedToService()   {}
