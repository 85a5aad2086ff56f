package control

import (
	"context"
	"fmt"
	"time"

	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

// SensorType is the kind of reading a Sensor shows.
type SensorType uint8

const (
	SensorTemperature SensorType = iota + 1
	SensorSignal
	SensorBattery
	SensorPhone
	SensorConnectivity
	SensorEvents
)

func (t SensorType) String() string {
	switch t {
	case SensorTemperature:
		return "temperature"
	case SensorSignal:
		return "gsm_strength"
	case SensorBattery:
		return "battery_status"
	case SensorPhone:
		return "phone_number"
	case SensorConnectivity:
		return "connection_status"
	default:
		return "events"
	}
}

func (t SensorType) label() string {
	switch t {
	case SensorSignal:
		return "GSM Strength"
	case SensorBattery:
		return "Battery Status"
	case SensorPhone:
		return "Phone Number"
	case SensorConnectivity:
		return "Connection Status"
	default:
		return "Events"
	}
}

// Sensor is a read-only reading of a device.
type Sensor struct {
	imei string
	typ  SensorType
	// id and name identify the thermometer of temperature sensors.
	id   int
	name string
}

// NewSensor creates a device level sensor. Use NewTemperatureSensor for
// thermometers.
func NewSensor(imei string, typ SensorType) *Sensor {
	return &Sensor{imei: imei, typ: typ}
}

func NewTemperatureSensor(imei string, t eldes.TemperatureSensor) *Sensor {
	return &Sensor{imei: imei, typ: SensorTemperature, id: t.ID, name: t.Name}
}

func (s *Sensor) Kind() Kind { return KindSensor }
func (s *Sensor) Type() SensorType { return s.typ }
func (s *Sensor) IMEI() string { return s.imei }

// TemperatureID is the thermometer id, for temperature sensors.
func (s *Sensor) TemperatureID() int { return s.id }

func (s *Sensor) UniqueID() string {
	if s.typ == SensorTemperature {
		return fmt.Sprintf("%s_%s_%d_temperature", s.imei, s.name, s.id)
	}
	return fmt.Sprintf("%s_%s", s.imei, s.typ)
}

func (s *Sensor) Name(snap coordinator.Snapshot) string {
	if s.typ == SensorTemperature {
		if t, ok := s.temperature(snap); ok {
			return t.Name + " Temperature"
		}
		return s.name + " Temperature"
	}
	model := "Eldes"
	if d, ok := snap.Devices[s.imei]; ok && d.Info.Model != "" {
		model = d.Info.Model
	}
	return model + " " + s.typ.label()
}

func (s *Sensor) temperature(snap coordinator.Snapshot) (eldes.TemperatureSensor, bool) {
	d, ok := snap.Devices[s.imei]
	if !ok {
		return eldes.TemperatureSensor{}, false
	}
	for _, t := range d.Temperatures {
		if t.ID == s.id {
			return t, true
		}
	}
	return eldes.TemperatureSensor{}, false
}

// Temperature returns the last reading of a temperature sensor.
func (s *Sensor) Temperature(snap coordinator.Snapshot) (float64, bool) {
	t, ok := s.temperature(snap)
	return t.Temperature, ok
}

func (s *Sensor) Render(snap coordinator.Snapshot) State {
	d, ok := snap.Devices[s.imei]
	if !ok {
		return State{}
	}
	info := d.Info
	switch s.typ {
	case SensorTemperature:
		t, ok := s.temperature(snap)
		if !ok {
			return State{}
		}
		return State{Value: t.Temperature, Available: true, Unit: "°C"}
	case SensorSignal:
		icon := "mdi:signal"
		if info.GSMStrength == 0 {
			icon = "mdi:signal-off"
		}
		return State{Value: info.SignalPercent(), Available: true, Icon: icon, Unit: "%"}
	case SensorBattery:
		icon := "mdi:battery"
		if !info.BatteryStatus {
			icon = "mdi:battery-alert-variant-outline"
		}
		return State{Value: info.BatteryLabel(), Available: true, Icon: icon}
	case SensorPhone:
		return State{Value: info.PhoneNumber, Available: true, Icon: "mdi:cellphone"}
	case SensorConnectivity:
		return State{Value: info.Online, Available: true}
	default:
		return renderEvents(d.Events)
	}
}

type eventView struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// renderEvents splits the events between alarms and user actions (arm and
// disarm). Order is kept as returned by the cloud.
func renderEvents(events []eldes.Event) State {
	all := []eventView{}
	alarms := []eventView{}
	actions := []eventView{}
	for _, e := range events {
		v := eventView{Type: e.Type.String(), Message: e.Message, Time: e.Time()}
		all = append(all, v)
		switch e.Type {
		case eldes.EventAlarm:
			alarms = append(alarms, v)
		case eldes.EventArm, eldes.EventDisarm:
			actions = append(actions, v)
		}
	}
	return State{
		Value:     len(events),
		Available: true,
		Icon:      "mdi:history",
		Attributes: map[string]any{
			"events":       all,
			"alarms":       alarms,
			"user_actions": actions,
		},
	}
}

func (s *Sensor) Handle(_ context.Context, cmd Command) error {
	return fmt.Errorf("%w: %s on %s", ErrNotActionable, cmd, s.UniqueID())
}
