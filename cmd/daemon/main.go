package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	lanpresence "github.com/devgianlu/go-lanpresence"
	"github.com/devgianlu/go-lanpresence/dbusapi"
	"github.com/devgianlu/go-lanpresence/presence"
	"github.com/devgianlu/go-lanpresence/zeroconf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

type App struct {
	cfg *Config

	state       *lanpresence.AppState
	registry    *prometheus.Registry
	provider    presence.Provider
	coordinator *presence.Coordinator

	server *ApiServer
	dbus   dbusapi.Server
}

// providerCloser is implemented by providers holding resources beyond their connection.
type providerCloser interface {
	Close()
}

func NewApp(cfg *Config) (app *App, err error) {
	app = &App{cfg: cfg}

	app.state = &lanpresence.AppState{}
	if err := app.state.Read(newLogger("state"), cfg.StateDir); err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = app.state.Close()
		}
	}()

	clientKey, err := app.state.EnsureClientKey()
	if err != nil {
		return nil, fmt.Errorf("failed persisting client key: %w", err)
	}

	ifaces, err := cfg.interfaces()
	if err != nil {
		return nil, err
	}

	registrar, err := zeroconf.NewRegistrar(cfg.ZeroconfBackend, ifaces)
	if err != nil {
		return nil, fmt.Errorf("failed initializing zeroconf registrar: %w", err)
	} else if avahi, ok := registrar.(*zeroconf.AvahiRegistrar); ok {
		log.Infof("using avahi-daemon %s for announcements", avahi.Version())
	}

	provider, err := zeroconf.NewProvider(&zeroconf.Options{
		ServiceType:    cfg.ServiceType,
		Port:           cfg.AnnouncePort,
		Registrar:      registrar,
		Browser:        zeroconf.NewBuiltinBrowser(ifaces),
		BrowseInterval: cfg.BrowseInterval,
		ExpireRounds:   cfg.ExpireRounds,
		Log:            newLogger("zeroconf"),
	})
	if err != nil {
		registrar.Close()
		return nil, fmt.Errorf("failed initializing zeroconf provider: %w", err)
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := app.init(provider, clientKey); err != nil {
		provider.Close()
		return nil, err
	}

	if cfg.DBus {
		app.dbus, err = dbusapi.NewServer(newLogger("dbus"), clientKey)
		if err != nil {
			provider.Close()
			return nil, fmt.Errorf("failed creating dbus server: %w", err)
		}
	} else {
		app.dbus = dbusapi.DummyServer{}
	}

	if cfg.Server.Enabled {
		metrics := promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})
		app.server, err = NewApiServer(cfg.Server.Address, cfg.Server.Port, cfg.Server.AllowOrigin, cfg.Server.CertFile, cfg.Server.KeyFile, metrics)
		if err != nil {
			_ = app.dbus.Close()
			provider.Close()
			return nil, fmt.Errorf("failed creating api server: %w", err)
		}
	} else {
		app.server, _ = NewStubApiServer()
	}

	return app, nil
}

// init creates the coordinator on top of provider.
func (app *App) init(provider presence.Provider, clientKey string) (err error) {
	app.provider = provider
	app.coordinator, err = presence.NewCoordinator(provider, &presence.Options{
		ServiceType:  app.cfg.ServiceType,
		ClientKey:    clientKey,
		Log:          newLogger("presence"),
		Metrics:      presence.NewMetrics(app.registry),
		StateChanged: app.stateChanged,
	})
	if err != nil {
		return fmt.Errorf("failed creating presence coordinator: %w", err)
	}

	app.coordinator.AddListener(app)
	return nil
}

// VisiblePeersChanged implements presence.Listener.
func (app *App) VisiblePeersChanged(ids []string) {
	log.Infof("%d peers visible", len(ids))
	app.emit(&ApiEvent{Type: ApiEventTypePeersChanged, Data: ApiEventDataPeersChanged{Ids: ids}})
}

func (app *App) stateChanged(state presence.AnnouncementState) {
	app.emit(&ApiEvent{Type: ApiEventTypeStateChanged, Data: ApiEventDataStateChanged{State: state.String()}})
}

func (app *App) emit(ev *ApiEvent) {
	if app.server != nil {
		app.server.Emit(ev)
	}

	if app.dbus != nil {
		app.dbus.EmitStateUpdate(dbusapi.State{
			AnnouncementState: app.coordinator.State().String(),
			DisplayName:       app.coordinator.DisplayName(),
			VisiblePeers:      app.coordinator.VisibleIds(),
		})
	}
}

func (app *App) handleApiRequest(req ApiRequest) (any, error) {
	switch req.Type {
	case ApiRequestTypeStatus:
		return &ApiResponseStatus{
			Version:      lanpresence.VersionNumberString(),
			ClientId:     app.coordinator.LocalId(),
			DisplayName:  app.coordinator.DisplayName(),
			ServiceType:  app.coordinator.ServiceType(),
			State:        app.coordinator.State().String(),
			VisiblePeers: len(app.coordinator.VisibleIds()),
		}, nil
	case ApiRequestTypePeers:
		ids := app.coordinator.VisibleIds()
		if ids == nil {
			ids = []string{}
		}

		return &ApiResponsePeers{Ids: ids}, nil
	case ApiRequestTypePublish:
		data, _ := req.Data.(ApiRequestDataPublish)
		return nil, app.publish(data.Name)
	case ApiRequestTypeRevoke:
		return nil, apiError(app.coordinator.Revoke())
	default:
		return nil, fmt.Errorf("unknown request type: %s", req.Type)
	}
}

// publish announces this instance, name falls back to the last used one and
// then to the configured device name.
func (app *App) publish(name string) error {
	if len(name) == 0 {
		app.state.Lock()
		name = app.state.DisplayName
		app.state.Unlock()
	}
	if len(name) == 0 {
		name = app.cfg.DeviceName
	}

	if err := app.coordinator.Publish(name); err != nil {
		return apiError(err)
	}

	app.state.Lock()
	app.state.DisplayName = name
	app.state.Unlock()

	if err := app.state.Write(); err != nil {
		log.WithError(err).Warn("failed persisting display name")
	}

	return nil
}

// apiError maps domain errors to the errors understood by the api server.
func apiError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, presence.ErrClosed):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case errors.Is(err, zeroconf.ErrNotConnected), errors.Is(err, zeroconf.ErrAlreadyRegistered):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}

func (app *App) serveRequests(ctx context.Context) {
	dbusCommands := app.dbus.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-app.server.Receive():
			data, err := app.handleApiRequest(req)
			req.Reply(data, err)
		case cmd := <-dbusCommands:
			switch cmd.Type {
			case dbusapi.CommandTypePublish:
				cmd.Reply(app.publish(cmd.Name))
			case dbusapi.CommandTypeRevoke:
				cmd.Reply(apiError(app.coordinator.Revoke()))
			default:
				cmd.Reply(fmt.Errorf("unknown dbus command: %d", cmd.Type))
			}
		}
	}
}

// Run connects to the local network and serves requests until ctx is done.
func (app *App) Run(ctx context.Context) error {
	requestsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go app.serveRequests(requestsCtx)

	if err := app.coordinator.Connect(); err != nil {
		return err
	}

	log.Infof("client %s looking for peers on %s", lanpresence.ShortId(app.coordinator.LocalId()), app.coordinator.ServiceType())

	if app.cfg.PublishOnStart {
		if err := app.publish(""); err != nil {
			log.WithError(err).Error("failed publishing announcement")
		}
	}

	<-ctx.Done()
	return nil
}

// Close revokes the announcement and releases every resource.
func (app *App) Close() error {
	err := app.coordinator.Close()

	if closer, ok := app.provider.(providerCloser); ok {
		closer.Close()
	}

	app.server.Close()
	err = multierr.Append(err, app.dbus.Close())
	return multierr.Append(err, app.state.Close())
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		log.WithError(err).Fatal("failed loading configuration")
	}

	if err := setupLogging(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("failed configuring logging")
	}

	log.Infof("running %s", lanpresence.SystemInfoString())

	app, err := NewApp(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed creating app")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		log.WithError(err).Error("failed closing app")
	}

	if runErr != nil {
		log.WithError(runErr).Fatal("failed running app")
	}
}
