package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var partitionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "alarm",
	Name:        "partition_state",
	Help:        "0 disarmed, 1 armed away, 2 armed home, 3 arming, 4 disarming",
	ConstLabels: map[string]string{},
}, []string{"imei", "name"})

var outputStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "alarm",
	Name:        "output_on",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"imei", "name"})

var temperatureGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "alarm",
	Name:        "temperature_celsius",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"imei", "name"})

var signalGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "device",
	Name:        "gsm_strength_percent",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"imei"})

var onlineGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "device",
	Name:        "online",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"imei"})

var batteryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "device",
	Name:        "battery_ok",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"imei"})

var refreshFailuresGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "coordinator",
	Name:        "consecutive_failures",
	Help:        "",
	ConstLabels: map[string]string{},
})

var lastRefreshGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "coordinator",
	Name:        "last_refresh_timestamp_seconds",
	Help:        "",
	ConstLabels: map[string]string{},
})

var requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "client",
	Name:        "requests_total",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"code", "method"})

var commandErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace:   "homekit_eldes",
	Subsystem:   "client",
	Name:        "command_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"kind"})
