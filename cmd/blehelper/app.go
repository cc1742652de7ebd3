package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blehelper/internal/device"
	goble "github.com/srg/blehelper/internal/device/go-ble"
	"github.com/srg/blehelper/internal/device/tinygo"
	"github.com/srg/blehelper/internal/permission"
	"github.com/srg/blehelper/internal/session"
	"github.com/srg/blehelper/pkg/config"
)

// app bundles what a command needs to talk to the radio.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *session.Manager
	close   func()
}

func (a *app) Close() {
	if a.close != nil {
		a.close()
	}
}

// backendFactory builds the adapter for the configured backend (can be overridden in tests)
var backendFactory = func(cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendTinyGo:
		return tinygo.NewAdapter(logger), nil
	case config.BackendGoBLE:
		goble.HCIDevice = cfg.HCIDevice
		return goble.NewAdapter(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// permissionsFor returns the location service and scan permission collaborators for cfg.
func permissionsFor(cfg *config.Config, prompt io.Writer) (device.LocationService, device.Permissions) {
	static := permission.Static{Location: cfg.Location.Enabled}
	if cfg.PromptForPermission() {
		return static, permission.NewPrompt(os.Stdin, prompt, false)
	}
	// Validate already rejected anything ParseStatus cannot read
	static.Answer, _ = permission.ParseStatus(cfg.Location.Permission)
	return static, static
}

// newApp loads the configuration and starts a session manager (can be overridden in tests)
var newApp = func(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}

	adapter, err := backendFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	location, permissions := permissionsFor(cfg, cmd.ErrOrStderr())

	ctx, cancel := context.WithCancel(context.Background())
	manager := session.NewManager(ctx, session.Options{
		Adapter:     adapter,
		Location:    location,
		Permissions: permissions,
		Logger:      logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		close: func() {
			manager.Close()
			cancel()
		},
	}, nil
}

// interruptContext returns a context cancelled on Ctrl+C or SIGTERM.
func interruptContext(parent context.Context, logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// connectAndDiscover connects to address, negotiates mtu when positive and discovers services.
// It returns the discovered characteristic identifiers.
func (a *app) connectAndDiscover(ctx context.Context, address string, mtu int, progress *ProgressPrinter) ([]string, error) {
	progress.Phase("Connecting")
	connected, err := a.manager.ConnectWait(ctx, address, a.cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if !connected {
		return nil, fmt.Errorf("%s: %w", address, ErrConnectFailed)
	}

	if mtu > 0 {
		progress.Phase("Negotiating MTU")
		if ok, err := a.manager.RequestMTUWait(ctx, address, mtu); err != nil || !ok {
			a.logger.WithFields(logrus.Fields{
				"device": address,
				"mtu":    mtu,
			}).WithError(err).Warn("MTU negotiation failed, keeping the default")
		}
	}

	progress.Phase("Discovering services")
	ids, err := a.manager.DiscoverServicesWait(ctx, address, a.cfg.DiscoverTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services of %s: %w", address, err)
	}
	return ids, nil
}

// resolveCharacteristic returns the canonical identifier of uuid among the discovered ids.
func resolveCharacteristic(ids []string, uuid string) (string, error) {
	canonical, err := device.ValidateUUID(uuid)
	if err != nil {
		return "", err
	}
	id := canonical[0]
	if !slices.Contains(ids, id) {
		return "", &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return id, nil
}

// watch subscribes to the events of type T for address. Events that do not fit the buffer
// are dropped; the session loop is never blocked.
func watch[T session.Event](a *app, address string, buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)
	cancel := a.manager.Subscribe(session.SinkFunc(func(ev session.Event) {
		e, ok := ev.(T)
		if !ok || e.DeviceAddress() != address {
			return
		}
		select {
		case ch <- e:
		default:
			a.logger.WithField("event", ev.Name()).Warn("Event buffer full, dropping event")
		}
	}))
	return ch, cancel
}
