package main

import (
	"testing"
	"time"

	"github.com/brutella/hap/characteristic"
	"github.com/caarlos0/env/v11"
	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/control"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Username:       "user",
		Password:       "pass",
		ScanInterval:   30 * time.Second,
		EventsListSize: 10,
		MaxFailures:    5,
		Timeout:        30 * time.Second,
		NightMode:      "ARM_HOME",
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(env.Options{Environment: map[string]string{
		"ELDES_USERNAME": "user@example.com",
		"ELDES_PASSWORD": "s3cr3t",
		"ELDES_IMEIS":    "123,456",
	}})
	require.NoError(t, err)
	require.Equal(t, "user@example.com", cfg.Username)
	require.Equal(t, []string{"123", "456"}, cfg.IMEIs)
	require.Equal(t, 30*time.Second, cfg.ScanInterval)
	require.Equal(t, 10, cfg.EventsListSize)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, "https://cloud.eldesalarms.com:8083/api/", cfg.APIURL)
	require.Equal(t, ":9009", cfg.Address)
	require.Empty(t, cfg.MQTTBroker)
	require.False(t, cfg.Debug)
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	_, err := loadConfig(env.Options{Environment: map[string]string{
		"ELDES_USERNAME": "user@example.com",
	}})
	require.Error(t, err)
}

func TestLoadConfigOutOfRange(t *testing.T) {
	_, err := loadConfig(env.Options{Environment: map[string]string{
		"ELDES_USERNAME":      "user@example.com",
		"ELDES_PASSWORD":      "s3cr3t",
		"ELDES_SCAN_INTERVAL": "5s",
	}})
	require.ErrorContains(t, err, "ELDES_SCAN_INTERVAL")
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().validate())

	for name, tt := range map[string]struct {
		fn  func(c *Config)
		msg string
	}{
		"interval too short": {func(c *Config) { c.ScanInterval = 9 * time.Second }, "ELDES_SCAN_INTERVAL"},
		"interval too long":  {func(c *Config) { c.ScanInterval = 301 * time.Second }, "ELDES_SCAN_INTERVAL"},
		"few events":         {func(c *Config) { c.EventsListSize = 4 }, "ELDES_EVENTS_LIST_SIZE"},
		"many events":        {func(c *Config) { c.EventsListSize = 51 }, "ELDES_EVENTS_LIST_SIZE"},
		"short timeout":      {func(c *Config) { c.Timeout = time.Second }, "ELDES_TIMEOUT"},
		"long timeout":       {func(c *Config) { c.Timeout = time.Minute + time.Second }, "ELDES_TIMEOUT"},
		"negative failures":  {func(c *Config) { c.MaxFailures = -1 }, "ELDES_MAX_FAILURES"},
		"bad night mode":     {func(c *Config) { c.NightMode = "DISARM" }, "ELDES_NIGHT_MODE"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			tt.fn(&cfg)
			require.ErrorContains(t, cfg.validate(), tt.msg)
		})
	}

	t.Run("bounds are inclusive", func(t *testing.T) {
		cfg := validConfig()
		cfg.ScanInterval = 10 * time.Second
		cfg.EventsListSize = 50
		cfg.Timeout = time.Minute
		require.NoError(t, cfg.validate())
	})
}

func TestSelectDevices(t *testing.T) {
	devices := []eldes.DeviceSummary{
		{IMEI: "1", Name: "Home"},
		{IMEI: "2", Name: "Office"},
	}

	t.Run("all", func(t *testing.T) {
		result, err := validConfig().selectDevices(devices)
		require.NoError(t, err)
		require.Equal(t, devices, result)
	})

	t.Run("selected", func(t *testing.T) {
		cfg := validConfig()
		cfg.IMEIs = []string{"2", "3"}
		result, err := cfg.selectDevices(devices)
		require.NoError(t, err)
		require.Equal(t, devices[1:], result)
	})

	t.Run("none found", func(t *testing.T) {
		cfg := validConfig()
		cfg.IMEIs = []string{"3"}
		_, err := cfg.selectDevices(devices)
		require.Error(t, err)
	})

	t.Run("empty account", func(t *testing.T) {
		_, err := validConfig().selectDevices(nil)
		require.Error(t, err)
	})
}

func TestTargetCommand(t *testing.T) {
	cfg := validConfig()
	for target, expected := range map[int]control.Command{
		characteristic.SecuritySystemTargetStateStayArm:  control.CommandArmHome,
		characteristic.SecuritySystemTargetStateAwayArm:  control.CommandArmAway,
		characteristic.SecuritySystemTargetStateNightArm: control.CommandArmHome,
		characteristic.SecuritySystemTargetStateDisarm:   control.CommandDisarm,
	} {
		cmd, ok := cfg.targetCommand(target)
		require.True(t, ok)
		require.Equal(t, expected, cmd)
	}

	cfg.NightMode = "arm_away"
	cmd, ok := cfg.targetCommand(characteristic.SecuritySystemTargetStateNightArm)
	require.True(t, ok)
	require.Equal(t, control.CommandArmAway, cmd)

	_, ok = cfg.targetCommand(42)
	require.False(t, ok)
}
