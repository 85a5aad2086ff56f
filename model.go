package eldes

import (
	"encoding/json"
	"time"
)

type DeviceSummary struct {
	IMEI  string `json:"imei"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

type DeviceInfo struct {
	Model         string `json:"model"`
	Firmware      string `json:"firmware"`
	Online        bool   `json:"online"`
	GSMStrength   int    `json:"gsmStrength"`
	BatteryStatus bool   `json:"batteryStatus"`
	PhoneNumber   string `json:"phoneNumber"`
}

// Device is one entry of a snapshot, rebuilt on every poll.
type Device struct {
	IMEI         string
	Info         DeviceInfo
	Temperatures []TemperatureSensor
	Partitions   []Partition
	Outputs      []Output
	Events       []Event

	// Version is incremented every time a poll replaces this device.
	Version uint64
}

// Partition returns the partition with the given id, or nil.
func (d *Device) Partition(id int) *Partition {
	for i := range d.Partitions {
		if d.Partitions[i].ID == id {
			return &d.Partitions[i]
		}
	}
	return nil
}

// PartitionIndex returns the position of the partition with the given id in
// the list the cloud returned. Alarm actions address partitions by position.
func (d *Device) PartitionIndex(id int) (int, bool) {
	for i := range d.Partitions {
		if d.Partitions[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// Output returns the output with the given id, or nil.
func (d *Device) Output(id int) *Output {
	for i := range d.Outputs {
		if d.Outputs[i].ID == id {
			return &d.Outputs[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the device.
func (d Device) Clone() Device {
	d.Temperatures = append([]TemperatureSensor(nil), d.Temperatures...)
	d.Partitions = append([]Partition(nil), d.Partitions...)
	d.Outputs = append([]Output(nil), d.Outputs...)
	events := make([]Event, len(d.Events))
	for i, e := range d.Events {
		e.DeviceTime = append([]int(nil), e.DeviceTime...)
		events[i] = e
	}
	d.Events = events
	return d
}

type Partition struct {
	ID                           int            `json:"internalId"`
	Name                         string         `json:"name"`
	State                        PartitionState `json:"state"`
	Armed                        bool           `json:"armed"`
	ArmStay                      bool           `json:"armStay"`
	HasUnacceptedPartitionAlarms bool           `json:"hasUnacceptedPartitionAlarms"`
}

type PartitionState uint8

const (
	StateDisarmed PartitionState = iota
	StateArmedAway
	StateArmedHome
	// StateArming and StateDisarming only exist locally while a command is
	// in flight; the cloud never reports them.
	StateArming
	StateDisarming
)

func (s PartitionState) String() string {
	switch s {
	case StateArmedAway:
		return "armed_away"
	case StateArmedHome:
		return "armed_home"
	case StateArming:
		return "arming"
	case StateDisarming:
		return "disarming"
	default:
		return "disarmed"
	}
}

// Transient reports whether a command is still changing the state.
func (s PartitionState) Transient() bool {
	return s == StateArming || s == StateDisarming
}

func (s *PartitionState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "ARMED":
		*s = StateArmedAway
	case "ARMSTAY":
		*s = StateArmedHome
	default:
		*s = StateDisarmed
	}
	return nil
}

func (s PartitionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// OutputTypeSwitch is the only output type that accepts commands.
const OutputTypeSwitch = "SWITCH"

type Output struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	State    bool       `json:"outputState"`
	HasFault bool       `json:"hasFault"`
	Icon     OutputIcon `json:"iconName"`
}

// Actionable reports whether the output can be switched.
func (o Output) Actionable() bool {
	return o.Type == OutputTypeSwitch
}

type OutputIcon uint8

// The zero value is the default icon, so outputs without an icon name get it.
const (
	IconLightningBolt OutputIcon = iota
	IconFan
	IconPowerSocket
	IconPowerPlug
)

// DefaultOutputIcon is used whenever the cloud sends an unknown icon name.
const DefaultOutputIcon = IconLightningBolt

var iconNames = map[string]OutputIcon{
	"ICON_0": IconFan,
	"ICON_1": IconLightningBolt,
	"ICON_2": IconPowerSocket,
	"ICON_3": IconPowerPlug,
}

func (i OutputIcon) String() string {
	switch i {
	case IconFan:
		return "mdi:fan"
	case IconPowerSocket:
		return "mdi:power-socket-eu"
	case IconPowerPlug:
		return "mdi:power-plug"
	default:
		return "mdi:lightning-bolt-outline"
	}
}

func (i *OutputIcon) UnmarshalJSON(b []byte) error {
	var v *string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*i = DefaultOutputIcon
	if v == nil {
		return nil
	}
	if icon, ok := iconNames[*v]; ok {
		*i = icon
	}
	return nil
}

func (i OutputIcon) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

type TemperatureSensor struct {
	ID          int     `json:"sensorId"`
	Name        string  `json:"sensorName"`
	Temperature float64 `json:"temperature"`
}

type EventType uint8

const (
	EventOther EventType = iota
	EventAlarm
	EventArm
	EventDisarm
)

func (t EventType) String() string {
	switch t {
	case EventAlarm:
		return "ALARM"
	case EventArm:
		return "ARM"
	case EventDisarm:
		return "DISARM"
	default:
		return "OTHER"
	}
}

func (t *EventType) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "ALARM":
		*t = EventAlarm
	case "ARM":
		*t = EventArm
	case "DISARM":
		*t = EventDisarm
	default:
		*t = EventOther
	}
	return nil
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

type Event struct {
	Type       EventType `json:"type"`
	Message    string    `json:"message"`
	DeviceTime []int     `json:"deviceTime"`
}

// Time converts the device time tuple (year, month, day, hour, minute,
// second), defaulting missing fields to 2000-01-01 00:00:00.
func (e Event) Time() time.Time {
	parts := [6]int{2000, 1, 1, 0, 0, 0}
	copy(parts[:], e.DeviceTime)
	return time.Date(
		parts[0], time.Month(parts[1]), parts[2],
		parts[3], parts[4], parts[5], 0, time.UTC,
	)
}

// AlarmMode is the action path segment used to change a partition state.
type AlarmMode string

const (
	ModeDisarm  AlarmMode = "disarm"
	ModeArm     AlarmMode = "arm"
	ModeArmStay AlarmMode = "armstay"
)
