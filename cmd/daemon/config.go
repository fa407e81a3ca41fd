package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

type Config struct {
	ConfigDir string `koanf:"config_dir"`
	StateDir  string `koanf:"state_dir"`

	LogLevel        string        `koanf:"log_level"`
	DeviceName      string        `koanf:"device_name"`
	ServiceType     string        `koanf:"service_type"`
	AnnouncePort    int           `koanf:"announce_port"`
	ZeroconfBackend string        `koanf:"zeroconf_backend"`
	Interfaces      []string      `koanf:"interfaces"`
	BrowseInterval  time.Duration `koanf:"browse_interval"`
	ExpireRounds    int           `koanf:"expire_rounds"`
	PublishOnStart  bool          `koanf:"publish_on_start"`
	DBus            bool          `koanf:"dbus"`

	Server struct {
		Enabled     bool   `koanf:"enabled"`
		Address     string `koanf:"address"`
		Port        int    `koanf:"port"`
		AllowOrigin string `koanf:"allow_origin"`
		CertFile    string `koanf:"cert_file"`
		KeyFile     string `koanf:"key_file"`
	} `koanf:"server"`
}

func defaultDir(base func() (string, error)) string {
	dir, err := base()
	if err != nil {
		return "."
	}

	return filepath.Join(dir, "go-lanpresence")
}

func defaultDeviceName() string {
	hostname, err := os.Hostname()
	if err != nil || len(hostname) == 0 {
		return "go-lanpresence"
	}

	return hostname
}

// loadConfig merges the defaults, the config.yml file found in the config
// directory and the command line flags, in increasing order of precedence.
func loadConfig(args []string) (*Config, error) {
	f := pflag.NewFlagSet("go-lanpresence", pflag.ContinueOnError)
	f.String("config_dir", defaultDir(os.UserConfigDir), "the configuration directory")
	f.String("state_dir", defaultDir(UserStateDir), "the state directory")
	f.String("log_level", "", "the log level (trace, debug, info, warn, error)")
	f.String("device_name", "", "the name announced to the other instances")
	f.String("zeroconf_backend", "", "the mDNS backend to use (builtin, avahi)")
	f.Bool("publish_on_start", false, "announce this instance as soon as the daemon starts")
	if err := f.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"log_level":        "info",
		"device_name":      defaultDeviceName(),
		"service_type":     "_lanpresence._tcp.local.",
		"announce_port":    0,
		"zeroconf_backend": "builtin",
		"browse_interval":  "10s",
		"expire_rounds":    3,
		"publish_on_start": true,
		"dbus":             false,
		"server.enabled":   true,
		"server.address":   "localhost",
		"server.port":      3679,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed loading default configuration: %w", err)
	}

	configDir, _ := f.GetString("config_dir")
	configPath := filepath.Join(configDir, "config.yml")
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed reading configuration file %s: %w", configPath, err)
	}

	// unchanged flags only fill in keys missing from the defaults and the file
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed loading command line flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed unmarshalling configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.AnnouncePort == 0 {
		if !c.Server.Enabled {
			return fmt.Errorf("announce_port must be set when the api server is disabled")
		}

		c.AnnouncePort = c.Server.Port
	}

	if c.AnnouncePort < 0 || c.AnnouncePort > 65535 {
		return fmt.Errorf("invalid announce_port: %d", c.AnnouncePort)
	}

	if c.BrowseInterval < time.Second {
		return fmt.Errorf("browse_interval too short: %s", c.BrowseInterval)
	}

	if c.ExpireRounds < 1 {
		return fmt.Errorf("invalid expire_rounds: %d", c.ExpireRounds)
	}

	return nil
}

// interfaces resolves the configured network interface names.
func (c *Config) interfaces() ([]net.Interface, error) {
	var ifaces []net.Interface
	for _, name := range c.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("failed getting network interface %s: %w", name, err)
		}

		ifaces = append(ifaces, *iface)
	}

	return ifaces, nil
}
