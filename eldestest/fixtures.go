package eldestest

import (
	"testing"

	eldes "github.com/caarlos0/homekit-eldes"
)

// IMEI of the device returned by SampleDevice.
const IMEI = "123456789012345"

// SampleDevice is an ESIM364 with one disarmed and one armed partition (ids
// 1 and 2, at list positions 0 and 1), a switch output that is off, a
// non-switch output and two thermometers.
func SampleDevice() eldes.Device {
	return eldes.Device{
		IMEI: IMEI,
		Info: eldes.DeviceInfo{
			Model:         "ESIM364",
			Firmware:      "02.14.00",
			Online:        true,
			GSMStrength:   3,
			BatteryStatus: true,
			PhoneNumber:   "+37060000000",
		},
		Partitions: []eldes.Partition{
			{ID: 1, Name: "House", State: eldes.StateDisarmed},
			{ID: 2, Name: "Garage", State: eldes.StateArmedAway, Armed: true},
		},
		Outputs: []eldes.Output{
			{ID: 7, Name: "Gate", Type: eldes.OutputTypeSwitch, Icon: eldes.IconPowerPlug},
			{ID: 8, Name: "Siren", Type: "SIREN"},
		},
		Temperatures: []eldes.TemperatureSensor{
			{ID: 1, Name: "Living room", Temperature: 21.5},
			{ID: 2, Name: "Outside", Temperature: -3.25},
		},
		Events: []eldes.Event{
			{Type: eldes.EventArm, Message: "Garage armed by app", DeviceTime: []int{2024, 5, 1, 18, 30, 0}},
			{Type: eldes.EventAlarm, Message: "Zone 3 alarm", DeviceTime: []int{2024, 5, 1, 3, 12, 45}},
			{Type: eldes.EventDisarm, Message: "House disarmed", DeviceTime: []int{2024, 4, 30}},
		},
	}
}

// NewClient returns a client for the fake account pointed at s.
func (s *Server) NewClient(tb testing.TB, opts ...eldes.Option) *eldes.Client {
	tb.Helper()
	return s.NewClientWithPassword(tb, Password, opts...)
}

// NewClientWithPassword is like NewClient, with a custom password.
func (s *Server) NewClientWithPassword(tb testing.TB, password string, opts ...eldes.Option) *eldes.Client {
	tb.Helper()
	cli, err := eldes.New(Username, password, append([]eldes.Option{eldes.WithBaseURL(s.BaseURL())}, opts...)...)
	if err != nil {
		tb.Fatalf("could not create client: %v", err)
	}
	return cli
}
