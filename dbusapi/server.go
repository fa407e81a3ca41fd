//go:build linux

package dbusapi

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	lanpresence "github.com/devgianlu/go-lanpresence"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

type ConcreteServer struct {
	log   lanpresence.Logger
	conn  *dbus.Conn
	iface presenceInterface

	// setProperty updates an exported property and emits PropertiesChanged
	setProperty func(name string, value interface{}) *dbus.Error

	lastUploadedState State
	lock              sync.Mutex
}

// NewServer connects to the session bus and exports the presence object.
func NewServer(log lanpresence.Logger, localId string) (Server, error) {
	log = lanpresence.LoggerOrNull(log)

	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed connecting to session bus: %w", err)
	}

	s := newConcreteServer(log)
	s.conn = conn

	props, err := prop.Export(conn, ObjectPath, map[string]map[string]*prop.Prop{
		InterfaceName: presenceProps(localId),
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed exporting dbus properties: %w", err)
	}

	s.setProperty = func(name string, value interface{}) *dbus.Error {
		return props.Set(InterfaceName, name, dbus.MakeVariant(value))
	}

	if err := conn.Export(s.iface, ObjectPath, InterfaceName); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed exporting dbus interface: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed requesting dbus name: %w", err)
	} else if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return nil, errors.New("dbus name is already taken")
	}

	log.Debugf("created dbus server")
	return s, nil
}

func newConcreteServer(log lanpresence.Logger) *ConcreteServer {
	return &ConcreteServer{
		log: log,
		iface: presenceInterface{
			log:      log,
			timeout:  5 * time.Second,
			commands: make(chan Command),
		},
		lastUploadedState: State{AnnouncementState: "unregistered", VisiblePeers: []string{}},
	}
}

// EmitStateUpdate publishes the properties that changed since the last update.
func (s *ConcreteServer) EmitStateUpdate(state State) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if state.VisiblePeers == nil {
		state.VisiblePeers = []string{}
	}

	if err := s.executeStateUpdate(state); err != nil {
		s.log.Warnf("error executing dbus state update: %s", err)
		return
	}

	s.lastUploadedState = state
}

func (s *ConcreteServer) executeStateUpdate(state State) *dbus.Error {
	if state.AnnouncementState != s.lastUploadedState.AnnouncementState {
		if err := s.setProperty("AnnouncementState", state.AnnouncementState); err != nil {
			return err
		}
	}
	if state.DisplayName != s.lastUploadedState.DisplayName {
		if err := s.setProperty("DisplayName", state.DisplayName); err != nil {
			return err
		}
	}
	if !slices.Equal(state.VisiblePeers, s.lastUploadedState.VisiblePeers) {
		if err := s.setProperty("VisiblePeers", state.VisiblePeers); err != nil {
			return err
		}
	}

	return nil
}

func (s *ConcreteServer) Receive() <-chan Command {
	return s.iface.commands
}

func (s *ConcreteServer) Close() error {
	if s.conn == nil {
		return nil
	}

	return s.conn.Close()
}
