package main

import (
	"github.com/brutella/hap/accessory"
	"github.com/cespare/xxhash/v2"
	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

// accessoryID derives the HomeKit id from the entity's unique id, so it does
// not change when the cloud adds, removes or reorders things. Ids are kept
// within 53 bits since controllers read them as JSON numbers, and 1 is the
// bridge.
func accessoryID(uniqueID string) uint64 {
	id := xxhash.Sum64String(uniqueID) & (1<<53 - 1)
	if id <= 1 {
		id += 2
	}
	return id
}

// Accessories are all the HomeKit accessories exposed by the bridge.
type Accessories struct {
	Alarms       []*SecuritySystem
	Outputs      []*OutputSwitch
	Thermometers []*Thermometer
}

func setupAccessories(
	cfg Config,
	devices []eldes.DeviceSummary,
	registry *control.Registry,
	snap coordinator.Snapshot,
) Accessories {
	models := map[string]string{}
	for _, d := range devices {
		models[d.IMEI] = d.Model
	}

	var result Accessories
	for _, partition := range registry.Partitions() {
		d := snap.Devices[partition.IMEI()]
		a := NewSecuritySystem(accessory.Info{
			Name:         partition.Name(snap),
			SerialNumber: partition.UniqueID(),
			Manufacturer: manufacturer,
			Model:        models[partition.IMEI()],
			Firmware:     d.Info.Firmware,
		}, cfg, partition)
		a.Id = accessoryID(partition.UniqueID())
		a.Update(snap)
		result.Alarms = append(result.Alarms, a)
	}
	result.Outputs = setupOutputs(cfg, registry, snap)
	result.Thermometers = setupThermometers(registry, snap)
	return result
}

func (acc Accessories) Update(snap coordinator.Snapshot) {
	for _, a := range acc.Alarms {
		a.Update(snap)
	}
	for _, a := range acc.Outputs {
		a.Update(snap)
	}
	for _, a := range acc.Thermometers {
		a.Update(snap)
	}
	for _, imei := range snap.IMEIs {
		d, ok := snap.Devices[imei]
		if !ok {
			continue
		}
		signalGauge.WithLabelValues(imei).Set(float64(d.Info.SignalPercent()))
		onlineGauge.WithLabelValues(imei).Set(boolAs[float64](d.Info.Online))
		batteryGauge.WithLabelValues(imei).Set(boolAs[float64](d.Info.BatteryStatus))
	}
}

func (acc Accessories) UpdateStatus(st coordinator.Status) {
	refreshFailuresGauge.Set(float64(st.ConsecutiveFailures))
	if st.OK() {
		lastRefreshGauge.Set(float64(st.LastRefresh.Unix()))
	}
	for _, a := range acc.Alarms {
		a.UpdateStatus(st)
	}
}

func (acc Accessories) All() []*accessory.A {
	var result []*accessory.A
	for _, c := range acc.Alarms {
		result = append(result, c.A)
	}
	for _, c := range acc.Outputs {
		result = append(result, c.A)
	}
	for _, c := range acc.Thermometers {
		result = append(result, c.A)
	}
	return result
}

// latest subscribes fn to the coordinator through a one slot mailbox, so a
// slow consumer only ever sees the newest snapshot and never runs inside the
// coordinator's publishing goroutine.
func latest(c *coordinator.Coordinator, fn func(coordinator.Snapshot)) (stop func()) {
	updates := make(chan coordinator.Snapshot, 1)
	done := make(chan struct{})
	cancel := c.Subscribe(func(s coordinator.Snapshot) {
		select {
		case <-updates:
		default:
		}
		updates <- s
	})
	go func() {
		for {
			select {
			case <-done:
				return
			case s := <-updates:
				fn(s)
			}
		}
	}()
	return func() {
		cancel()
		close(done)
	}
}
