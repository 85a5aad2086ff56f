package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const manufacturer = "Eldes"

func main() {
	log.Info(
		"homekit-eldes",
		"version", version,
		"commit", commit,
		"date", date,
		"info", "Homekit bridge for Eldes cloud alarm systems",
	)

	cfg, err := loadConfig(env.Options{})
	if err != nil {
		log.Fatal(
			"invalid configuration",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}
	if cfg.Debug {
		log.SetLevel(logp.DebugLevel)
		eldes.SetLogLevel(logp.DebugLevel)
		coordinator.SetLogLevel(logp.DebugLevel)
		control.SetLogLevel(logp.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)
	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	cli, err := eldes.New(
		cfg.Username,
		cfg.Password,
		eldes.WithBaseURL(cfg.APIURL),
		eldes.WithTimeout(cfg.Timeout),
		eldes.WithHTTPClient(&http.Client{
			Transport: promhttp.InstrumentRoundTripperCounter(requestCounter, http.DefaultTransport),
		}),
	)
	if err != nil {
		log.Fatal("could not create client", "err", err)
	}

	devices, coord, err := start(ctx, cfg, cli)
	if err != nil {
		if eldes.KindOf(err) == eldes.KindAuthentication {
			log.Fatal("credentials rejected, check ELDES_USERNAME and ELDES_PASSWORD", "err", err)
		}
		log.Fatal("could not start", "err", err)
	}
	for _, d := range devices {
		log.Info("got device", "imei", d.IMEI, "name", d.Name, "model", d.Model)
	}

	snap := coord.Snapshot()
	registry := control.NewRegistry(snap, coord, cli)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Eldes Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})
	accessories := setupAccessories(cfg, devices, registry, snap)

	stop := latest(coord, accessories.Update)
	defer stop()
	cancelStatus := coord.SubscribeStatus(accessories.UpdateStatus)
	defer cancelStatus()

	if cfg.MQTTBroker != "" {
		client, mirror, err := connectMQTT(ctx, cfg, func(pub Publisher) *Mirror {
			return NewMirror(cfg.MQTTPrefix, pub, registry)
		})
		if err != nil {
			log.Fatal("could not setup mqtt", "err", err)
		}
		defer client.Disconnect(250)
		stopMirror := latest(coord, mirror.Update)
		defer stopMirror()
		cancelMirrorStatus := coord.SubscribeStatus(mirror.UpdateStatus)
		defer cancelMirrorStatus()
		mirror.UpdateStatus(coord.Status())
	}

	wait := poll(ctx, cancel, coord.Run)

	fs := hap.NewFsStore(cfg.DB)

	server, err := hap.NewServer(fs, bridge.A, accessories.All()...)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/", statusHandler(registry, coord))

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
	cancel()
	if err := wait(); err != nil {
		log.Fatal("exiting", "err", err)
	}
}

// start logs in, selects the devices to poll and runs the first refresh,
// retrying with backoff unless the credentials are rejected.
func start(ctx context.Context, cfg Config, cli *eldes.Client) ([]eldes.DeviceSummary, *coordinator.Coordinator, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 30
	bo.MaxElapsedTime = time.Minute * 5

	var devices []eldes.DeviceSummary
	var coord *coordinator.Coordinator
	err := backoff.RetryNotify(func() error {
		if err := cli.Login(ctx); err != nil {
			return permanentOnAuth(err)
		}
		all, err := cli.Devices(ctx)
		if err != nil {
			return permanentOnAuth(fmt.Errorf("could not list devices: %w", err))
		}
		devices, err = cfg.selectDevices(all)
		if err != nil {
			return backoff.Permanent(err)
		}

		imeis := make([]string, 0, len(devices))
		for _, d := range devices {
			imeis = append(imeis, d.IMEI)
		}
		coord, err = coordinator.New(
			cli,
			imeis,
			coordinator.WithInterval(cfg.ScanInterval),
			coordinator.WithEventsListSize(cfg.EventsListSize),
			coordinator.WithMaxFailures(cfg.MaxFailures),
		)
		if err != nil {
			return backoff.Permanent(err)
		}
		return permanentOnAuth(coord.FirstRefresh(ctx))
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		log.Warn("could not start, retrying", "in", d, "err", err)
	})
	return devices, coord, err
}

// poll runs the coordinator in the background. If it stops with an error
// the whole process is cancelled. wait blocks until it returned.
func poll(ctx context.Context, cancel context.CancelFunc, run func(context.Context) error) (wait func() error) {
	done := make(chan error, 1)
	go func() {
		err := run(ctx)
		if err != nil {
			log.Error("credentials rejected, stopping", "err", err)
			cancel()
		}
		done <- err
	}()
	return func() error {
		return <-done
	}
}

func permanentOnAuth(err error) error {
	if err != nil && eldes.KindOf(err) == eldes.KindAuthentication {
		return backoff.Permanent(err)
	}
	return err
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}
