//go:build !linux

package dbusapi

import (
	lanpresence "github.com/devgianlu/go-lanpresence"
)

// NewServer creates a no-op server to replace the equivalently named method in builds outside linux
func NewServer(log lanpresence.Logger, _ string) (Server, error) {
	lanpresence.LoggerOrNull(log).Warn("dbus was set to enabled although it is not included in this build")

	return DummyServer{}, nil
}
