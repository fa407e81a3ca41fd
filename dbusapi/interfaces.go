//go:build linux

package dbusapi

import (
	"errors"
	"time"

	lanpresence "github.com/devgianlu/go-lanpresence"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

func newProp(value interface{}) *prop.Prop {
	return &prop.Prop{
		Value:    value,
		Writable: false,
		Emit:     prop.EmitTrue,
	}
}

func presenceProps(localId string) map[string]*prop.Prop {
	return map[string]*prop.Prop{
		"LocalId":           newProp(localId),
		"AnnouncementState": newProp("unregistered"),
		"DisplayName":       newProp(""),
		"VisiblePeers":      newProp([]string{}),
	}
}

// presenceInterface is exported on ObjectPath, its methods are forwarded to
// the daemon through the commands channel.
type presenceInterface struct {
	log     lanpresence.Logger
	timeout time.Duration

	commands chan Command
}

var errNotListening = errors.New("daemon is not handling requests")

func (p presenceInterface) enqueueCommand(command Command) *dbus.Error {
	command.response = make(chan *dbus.Error, 1)

	select {
	case p.commands <- command:
		err := <-command.response
		if err != nil {
			p.log.Tracef("dbus command %d returned an error: %s", command.Type, err)
		}

		return err
	case <-time.After(p.timeout):
		p.log.Tracef("dbus command not enqueued, because there was no listener registered")
		return dbus.MakeFailedError(errNotListening)
	}
}

func (p presenceInterface) Publish(name string) *dbus.Error {
	p.log.Tracef("PresenceInterface::Publish")

	return p.enqueueCommand(Command{Type: CommandTypePublish, Name: name})
}

func (p presenceInterface) Revoke() *dbus.Error {
	p.log.Tracef("PresenceInterface::Revoke")

	return p.enqueueCommand(Command{Type: CommandTypeRevoke})
}
