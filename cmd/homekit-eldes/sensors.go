package main

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

// Thermometer is a HomeKit temperature sensor for one of the device thermometers.
type Thermometer struct {
	*accessory.A
	Temperature *service.TemperatureSensor

	sensor *control.Sensor
}

func newThermometer(info accessory.Info, sensor *control.Sensor) *Thermometer {
	a := Thermometer{sensor: sensor}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.Temperature = service.NewTemperatureSensor()
	// outdoor sensors go below zero
	a.Temperature.CurrentTemperature.MinVal = -50.0
	a.AddS(a.Temperature.S)

	return &a
}

func (a *Thermometer) Update(snap coordinator.Snapshot) {
	v, ok := a.sensor.Temperature(snap)
	if !ok {
		return
	}
	temperatureGauge.WithLabelValues(a.sensor.IMEI(), a.sensor.Name(snap)).Set(v)
	if a.Temperature.CurrentTemperature.Value() != v {
		a.Temperature.CurrentTemperature.SetValue(v)
		log.Debug("temperature", "sensor", a.sensor.Name(snap), "value", v)
	}
}

func setupThermometers(registry *control.Registry, snap coordinator.Snapshot) []*Thermometer {
	var result []*Thermometer
	for _, sensor := range registry.Sensors() {
		if sensor.Type() != control.SensorTemperature {
			continue
		}
		a := newThermometer(accessory.Info{
			Name:         sensor.Name(snap),
			SerialNumber: sensor.UniqueID(),
			Manufacturer: manufacturer,
		}, sensor)
		a.Id = accessoryID(sensor.UniqueID())
		a.Update(snap)
		result = append(result, a)
	}
	return result
}
