package dbusapi

import (
	"github.com/godbus/dbus/v5"
)

const (
	BusName       = "io.github.devgianlu.LanPresence"
	ObjectPath    = dbus.ObjectPath("/io/github/devgianlu/LanPresence")
	InterfaceName = "io.github.devgianlu.LanPresence1"
)

type CommandType int32

const (
	CommandTypePublish CommandType = iota
	CommandTypeRevoke
)

type Command struct {
	Type CommandType
	// Name is the display name to publish with, empty to use the last one.
	Name string

	response chan *dbus.Error
}

// Reply completes the command, err is returned to the D-Bus caller.
func (c *Command) Reply(err error) {
	if err == nil {
		c.response <- nil
	} else {
		c.response <- dbus.MakeFailedError(err)
	}
}

// State is the presence state mirrored in the exported properties.
type State struct {
	AnnouncementState string
	DisplayName       string
	VisiblePeers      []string
}

type Server interface {
	EmitStateUpdate(state State)
	Receive() <-chan Command

	Close() error
}

type DummyServer struct {
}

func (d DummyServer) EmitStateUpdate(State) {
}

func (d DummyServer) Receive() <-chan Command {
	return make(<-chan Command)
}

func (d DummyServer) Close() error { return nil }
