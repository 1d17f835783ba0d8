// Package app assembles the bridge from its config and supervises the long running parts.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/compool-bridge/db"
	"github.com/thatsimonsguy/compool-bridge/internal/accessory"
	"github.com/thatsimonsguy/compool-bridge/internal/api"
	"github.com/thatsimonsguy/compool-bridge/internal/clock"
	"github.com/thatsimonsguy/compool-bridge/internal/collector"
	"github.com/thatsimonsguy/compool-bridge/internal/config"
	"github.com/thatsimonsguy/compool-bridge/internal/datadog"
	"github.com/thatsimonsguy/compool-bridge/internal/device"
	"github.com/thatsimonsguy/compool-bridge/internal/driver"
	"github.com/thatsimonsguy/compool-bridge/internal/history"
	"github.com/thatsimonsguy/compool-bridge/internal/interlock"
	"github.com/thatsimonsguy/compool-bridge/internal/mqtt"
	"github.com/thatsimonsguy/compool-bridge/internal/notifications"
	"github.com/thatsimonsguy/compool-bridge/internal/relays"
	"github.com/thatsimonsguy/compool-bridge/internal/status"
)

// App owns every component built from one config. Build it with New, then Run it.
type App struct {
	cfg *config.Config

	broker     Broker
	controller *device.MQTTController
	store      *status.Store
	service    *accessory.Service
	hub        *accessory.Hub
	surface    *accessory.MQTTSurface
	driver     *driver.Driver
	registry   *prometheus.Registry
	journal    *db.Journal
	server     *api.Server

	closers []io.Closer
}

// Broker is the MQTT connection shared by the device and accessory sides.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	QoS() byte
	Close() error
}

// New connects to the broker and storage backends and wires the pipeline. Nothing is
// consumed until Run.
func New(cfg *config.Config) (*App, error) {
	broker, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	return NewWithBroker(cfg, broker)
}

// NewWithBroker wires the pipeline over an established broker connection. The app takes
// ownership of broker and closes it in Close.
func NewWithBroker(cfg *config.Config, broker Broker) (*App, error) {
	a := &App{
		cfg:      cfg,
		broker:   broker,
		store:    status.New(),
		hub:      accessory.NewHub(),
		registry: prometheus.NewRegistry(),
		closers:  []io.Closer{broker},
	}
	var err error

	seqOpts := []interlock.Option{
		interlock.WithTimeout(cfg.Device.CommandTimeout),
		interlock.WithRateLimit(cfg.Device.CommandsPerSecond),
	}

	if cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("journal directory: %w", err)
		}
		conn, err := db.Open(cfg.Journal.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, conn)
		a.journal = db.NewJournal(conn.DB)
		seqOpts = append(seqOpts, interlock.WithJournal(a.journal))
	}

	var observers []driver.Observer
	var metrics *datadog.Metrics
	if cfg.Datadog.Enabled {
		metrics, err = datadog.New(cfg.Datadog.Addr, cfg.Datadog.Namespace, []string{"bridge:" + cfg.Name})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, metrics)
		observers = append(observers, metrics)
		seqOpts = append(seqOpts, interlock.WithCommandHook(metrics.Command))
	}

	if cfg.Influx.Enabled {
		rec, err := history.Connect(cfg.Influx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rec)
		observers = append(observers, rec)
	}

	a.controller = device.NewMQTTController(broker, cfg.Device.Topic(), broker.QoS())
	seq := interlock.New(a.controller, a.store, seqOpts...)

	zones := cfg.Zones()
	rel := relays.New(a.store, seq, cfg.AuxNames(), zones)
	a.service = accessory.NewService(cfg.Name, zones, a.store, seq, rel)
	a.surface = accessory.NewMQTTSurface(a.service, broker, cfg.MQTT.AccessoryPrefix, broker.QoS())

	corrector, err := clock.New(cfg.Timezone, seq)
	if err != nil {
		a.Close()
		return nil, err
	}
	if metrics != nil {
		corrector.OnSkew(metrics.ClockSkew)
	}

	a.registry.MustRegister(
		collector.New(a.service),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	driverOpts := []driver.Option{
		driver.WithObservers(append([]driver.Observer{a.hub, a.surface}, observers...)...),
	}
	if corrector.Enabled() {
		driverOpts = append(driverOpts, driver.WithClock(corrector))
	}
	if n := notifications.New(cfg.Ntfy.BaseURL, cfg.Ntfy.Topic, cfg.Ntfy.Interval); n != nil {
		driverOpts = append(driverOpts, driver.WithNotifier(n))
	}
	a.driver = driver.New(a.controller, a.store, a.service, driverOpts...)

	if cfg.HTTP.Enabled {
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		var journal api.Journal
		if a.journal != nil {
			journal = a.journal
		}
		a.server = api.NewServer(a.service, a.hub, a.registry, journal)
	}

	return a, nil
}

// Run subscribes to the gateway and accessory topics and blocks until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.controller.Start(); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := a.surface.Start(ctx); err != nil {
		return fmt.Errorf("accessory surface: %w", err)
	}

	g.Go(func() error { return a.driver.Run(ctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Start(ctx, a.cfg.HTTP.Addr) })
	}

	log.Info().
		Str("device", a.cfg.Device.Path).
		Str("topic", a.cfg.Device.Topic()).
		Int("zones", len(a.service.Zones())).
		Msg("Compool bridge started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every connection in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
