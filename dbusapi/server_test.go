//go:build linux

package dbusapi

import (
	"errors"
	"testing"
	"time"

	lanpresence "github.com/devgianlu/go-lanpresence"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestServer() (*ConcreteServer, *[]string) {
	s := newConcreteServer(&lanpresence.NullLogger{})

	var changed []string
	s.setProperty = func(name string, _ interface{}) *dbus.Error {
		changed = append(changed, name)
		return nil
	}

	return s, &changed
}

func TestEmitStateUpdateOnlyChanges(t *testing.T) {
	s, changed := newTestServer()

	s.EmitStateUpdate(State{AnnouncementState: "unregistered"})
	assert.Empty(t, *changed)

	s.EmitStateUpdate(State{AnnouncementState: "registering", DisplayName: "Alice"})
	assert.Equal(t, []string{"AnnouncementState", "DisplayName"}, *changed)

	*changed = nil
	s.EmitStateUpdate(State{AnnouncementState: "registering", DisplayName: "Alice", VisiblePeers: []string{"bob"}})
	assert.Equal(t, []string{"VisiblePeers"}, *changed)
}

func TestEmitStateUpdateFailureRetries(t *testing.T) {
	s, _ := newTestServer()

	var calls int
	s.setProperty = func(string, interface{}) *dbus.Error {
		calls++
		if calls == 1 {
			return dbus.MakeFailedError(errors.New("bus gone"))
		}
		return nil
	}

	// a failed update is not remembered, so the next one sends it again
	s.EmitStateUpdate(State{AnnouncementState: "registered"})
	s.EmitStateUpdate(State{AnnouncementState: "registered"})
	assert.Equal(t, 2, calls)
	assert.Equal(t, "registered", s.lastUploadedState.AnnouncementState)
}

func TestCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := newTestServer()
	s.iface.timeout = 10 * time.Millisecond

	// nobody listening
	require.NotNil(t, s.iface.Publish("Alice"))

	s.iface.timeout = 5 * time.Second

	done := make(chan struct{})
	go func() {
		defer close(done)

		cmd := <-s.Receive()
		assert.Equal(t, CommandTypePublish, cmd.Type)
		assert.Equal(t, "Alice", cmd.Name)
		cmd.Reply(nil)

		cmd = <-s.Receive()
		assert.Equal(t, CommandTypeRevoke, cmd.Type)
		cmd.Reply(errors.New("coordinator closed"))
	}()

	require.Nil(t, s.iface.Publish("Alice"))
	require.NotNil(t, s.iface.Revoke())
	<-done

	require.NoError(t, s.Close())
}
