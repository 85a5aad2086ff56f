package eldes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPartitionStateDecode(t *testing.T) {
	for input, expected := range map[string]PartitionState{
		`{"state":"DISARMED"}`: StateDisarmed,
		`{"state":"ARMED"}`:    StateArmedAway,
		`{"state":"ARMSTAY"}`:  StateArmedHome,
		`{"state":"ARMING"}`:   StateDisarmed,
		`{"state":"whatever"}`: StateDisarmed,
		`{"state":null}`:       StateDisarmed,
		`{}`:                   StateDisarmed,
	} {
		t.Run(input, func(t *testing.T) {
			var p Partition
			require.NoError(t, json.Unmarshal([]byte(input), &p))
			require.Equal(t, expected, p.State)
			require.False(t, p.State.Transient())
		})
	}
}

func TestPartitionStateTransient(t *testing.T) {
	require.True(t, StateArming.Transient())
	require.True(t, StateDisarming.Transient())
	require.False(t, StateArmedHome.Transient())
}

func TestSignalPercent(t *testing.T) {
	for raw, expected := range map[int]int{
		-1: 0,
		0:  0,
		1:  30,
		2:  60,
		3:  80,
		4:  100,
		5:  100,
	} {
		t.Run(fmt.Sprint(raw), func(t *testing.T) {
			require.Equal(t, expected, SignalPercent(raw))
		})
	}
}

func TestBatteryLabel(t *testing.T) {
	require.Equal(t, "OK", DeviceInfo{BatteryStatus: true}.BatteryLabel())
	require.Equal(t, "Bad", DeviceInfo{}.BatteryLabel())
}

func TestOutputIconDecode(t *testing.T) {
	for input, expected := range map[string]OutputIcon{
		`{"iconName":"ICON_0"}`: IconFan,
		`{"iconName":"ICON_1"}`: IconLightningBolt,
		`{"iconName":"ICON_2"}`: IconPowerSocket,
		`{"iconName":"ICON_3"}`: IconPowerPlug,
		`{"iconName":"ICON_9"}`: DefaultOutputIcon,
		`{"iconName":null}`:     DefaultOutputIcon,
		`{}`:                    DefaultOutputIcon,
	} {
		t.Run(input, func(t *testing.T) {
			var o Output
			require.NoError(t, json.Unmarshal([]byte(input), &o))
			require.Equal(t, expected, o.Icon)
		})
	}
	require.Equal(t, "mdi:fan", IconFan.String())
	require.Equal(t, "mdi:lightning-bolt-outline", DefaultOutputIcon.String())
}

func TestEventTime(t *testing.T) {
	for name, tt := range map[string]struct {
		tuple    []int
		expected time.Time
	}{
		"full":    {[]int{2024, 5, 1, 18, 30, 15}, time.Date(2024, 5, 1, 18, 30, 15, 0, time.UTC)},
		"date":    {[]int{2024, 5, 1}, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		"year":    {[]int{2023}, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		"empty":   {nil, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		"too big": {[]int{2024, 5, 1, 18, 30, 15, 99}, time.Date(2024, 5, 1, 18, 30, 15, 0, time.UTC)},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.expected, Event{DeviceTime: tt.tuple}.Time())
		})
	}
}

func TestEventTypeDecode(t *testing.T) {
	var events []Event
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type":"ALARM","message":"a"},
		{"type":"ARM","message":"b"},
		{"type":"DISARM","message":"c"},
		{"type":"TROUBLE","message":"d"}
	]`), &events))
	require.Equal(t, []EventType{EventAlarm, EventArm, EventDisarm, EventOther}, []EventType{
		events[0].Type, events[1].Type, events[2].Type, events[3].Type,
	})
}

func TestDeviceClone(t *testing.T) {
	dev := Device{
		IMEI:       "1",
		Partitions: []Partition{{ID: 1, State: StateArmedAway}},
		Outputs:    []Output{{ID: 7}},
		Events:     []Event{{DeviceTime: []int{2024}}},
	}
	clone := dev.Clone()
	clone.Partition(1).State = StateDisarmed
	clone.Output(7).State = true
	clone.Events[0].DeviceTime[0] = 1999

	require.Equal(t, StateArmedAway, dev.Partitions[0].State)
	require.False(t, dev.Outputs[0].State)
	require.Equal(t, 2024, dev.Events[0].DeviceTime[0])
	require.Nil(t, clone.Partition(42))

	idx, ok := dev.PartitionIndex(1)
	require.True(t, ok)
	require.Equal(t, 0, idx)
	_, ok = dev.PartitionIndex(42)
	require.False(t, ok)
	require.Nil(t, clone.Output(42))
}

func TestKindOf(t *testing.T) {
	auth := newError(KindAuthentication, "login", 401, nil)
	require.Equal(t, KindAuthentication, KindOf(fmt.Errorf("wrapped: %w", auth)))
	require.True(t, errors.Is(fmt.Errorf("wrapped: %w", auth), ErrAuthentication))
	require.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	require.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	require.Equal(t, KindUnknown, KindOf(nil))

	timeout := transportError("GET device/list", context.DeadlineExceeded)
	require.ErrorIs(t, timeout, ErrTimeout)
	require.ErrorIs(t, timeout, ErrTransient)
	require.NotErrorIs(t, timeout, ErrAuthentication)
}

func TestStatusKind(t *testing.T) {
	for status, expected := range map[int]ErrorKind{
		400: KindUnknown,
		401: KindAuthentication,
		403: KindAuthentication,
		404: KindUnknown,
		408: KindTransient,
		429: KindTransient,
		500: KindTransient,
		503: KindTransient,
	} {
		require.Equal(t, expected, statusKind(status), "status %d", status)
	}
}
