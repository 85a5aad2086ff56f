package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brutella/hap/characteristic"
	"github.com/caarlos0/env/v11"
	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
	"golang.org/x/exp/slices"
)

const (
	minTimeout = 10 * time.Second
	maxTimeout = 60 * time.Second
)

type Config struct {
	Username       string        `env:"USERNAME,notEmpty"`
	Password       string        `env:"PASSWORD,notEmpty"`
	IMEIs          []string      `env:"IMEIS"`
	ScanInterval   time.Duration `env:"SCAN_INTERVAL"    envDefault:"30s"`
	EventsListSize int           `env:"EVENTS_LIST_SIZE" envDefault:"10"`
	MaxFailures    int           `env:"MAX_FAILURES"     envDefault:"5"`
	Timeout        time.Duration `env:"TIMEOUT"          envDefault:"30s"`
	APIURL         string        `env:"API_URL"          envDefault:"https://cloud.eldesalarms.com:8083/api/"`
	NightMode      string        `env:"NIGHT_MODE"       envDefault:"ARM_HOME"`
	Address        string        `env:"LISTEN"           envDefault:":9009"`
	DB             string        `env:"DB"               envDefault:"./db"`
	MQTTBroker     string        `env:"MQTT_BROKER"`
	MQTTPrefix     string        `env:"MQTT_PREFIX"      envDefault:"eldes"`
	MQTTClientID   string        `env:"MQTT_CLIENT_ID"   envDefault:"homekit-eldes"`
	MQTTUsername   string        `env:"MQTT_USERNAME"`
	MQTTPassword   string        `env:"MQTT_PASSWORD"`
	Debug          bool          `env:"DEBUG"`
}

func loadConfig(opts env.Options) (Config, error) {
	opts.Prefix = "ELDES_"
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("could not parse env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.ScanInterval < coordinator.MinInterval || c.ScanInterval > coordinator.MaxInterval {
		errs = append(errs, fmt.Errorf(
			"ELDES_SCAN_INTERVAL must be between %s and %s, got %s",
			coordinator.MinInterval, coordinator.MaxInterval, c.ScanInterval,
		))
	}
	if c.EventsListSize < coordinator.MinEventsListSize || c.EventsListSize > coordinator.MaxEventsListSize {
		errs = append(errs, fmt.Errorf(
			"ELDES_EVENTS_LIST_SIZE must be between %d and %d, got %d",
			coordinator.MinEventsListSize, coordinator.MaxEventsListSize, c.EventsListSize,
		))
	}
	if c.Timeout < minTimeout || c.Timeout > maxTimeout {
		errs = append(errs, fmt.Errorf(
			"ELDES_TIMEOUT must be between %s and %s, got %s",
			minTimeout, maxTimeout, c.Timeout,
		))
	}
	if c.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("ELDES_MAX_FAILURES must not be negative, got %d", c.MaxFailures))
	}
	if _, err := c.nightCommand(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// nightCommand is the command HomeKit's night mode translates to, since Eldes
// panels have no night mode.
func (c Config) nightCommand() (control.Command, error) {
	cmd, err := control.ParseCommand(c.NightMode)
	if err != nil || (cmd != control.CommandArmHome && cmd != control.CommandArmAway) {
		return "", fmt.Errorf("ELDES_NIGHT_MODE must be ARM_HOME or ARM_AWAY, got %q", c.NightMode)
	}
	return cmd, nil
}

// selectDevices returns the devices to poll: all of them when no IMEI is
// configured, otherwise the configured ones found on the account.
func (c Config) selectDevices(devices []eldes.DeviceSummary) ([]eldes.DeviceSummary, error) {
	if len(c.IMEIs) == 0 {
		if len(devices) == 0 {
			return nil, errors.New("no devices found on the account")
		}
		return devices, nil
	}

	var result []eldes.DeviceSummary
	for _, imei := range c.IMEIs {
		imei = strings.TrimSpace(imei)
		idx := slices.IndexFunc(devices, func(d eldes.DeviceSummary) bool {
			return d.IMEI == imei
		})
		if idx < 0 {
			log.Warn("device not found on the account", "imei", imei)
			continue
		}
		result = append(result, devices[idx])
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("none of the configured devices were found: %v", c.IMEIs)
	}
	return result, nil
}

// targetCommand maps a HomeKit target state into a partition command.
func (c Config) targetCommand(target int) (control.Command, bool) {
	switch target {
	case characteristic.SecuritySystemTargetStateStayArm:
		return control.CommandArmHome, true
	case characteristic.SecuritySystemTargetStateAwayArm:
		return control.CommandArmAway, true
	case characteristic.SecuritySystemTargetStateNightArm:
		cmd, err := c.nightCommand()
		return cmd, err == nil
	case characteristic.SecuritySystemTargetStateDisarm:
		return control.CommandDisarm, true
	default:
		return "", false
	}
}
