package main

import (
	"context"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

// SecuritySystem is the HomeKit view of one partition.
type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	LowBattery     *characteristic.StatusLowBattery
	Fault          *characteristic.StatusFault

	partition *control.Partition
	cfg       Config
}

func NewSecuritySystem(info accessory.Info, cfg Config, partition *control.Partition) *SecuritySystem {
	a := &SecuritySystem{
		cfg:       cfg,
		partition: partition,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.LowBattery = characteristic.NewStatusLowBattery()
	a.SecuritySystem.AddC(a.LowBattery.C)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

func (a *SecuritySystem) Update(snap coordinator.Snapshot) {
	part, ok := a.partition.Get(snap)
	if !ok {
		return
	}
	partitionStateGauge.WithLabelValues(a.partition.IMEI(), part.Name).Set(float64(part.State))

	if state := currentState(part); state >= 0 && a.SecuritySystem.SecuritySystemCurrentState.Value() != state {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(state)
		log.Info("set current state", "partition", part.Name, "state", part.State, "err", err)
		if target := targetState(part.State); target >= 0 {
			_ = a.SecuritySystem.SecuritySystemTargetState.SetValue(target)
		}
	}

	if d, ok := snap.Devices[a.partition.IMEI()]; ok {
		if v := boolAs[int](!d.Info.BatteryStatus); a.LowBattery.Value() != v {
			_ = a.LowBattery.SetValue(v)
			log.Info("alarm status", "partition", part.Name, "battery", d.Info.BatteryLabel())
		}
		a.setFault(!d.Info.Online)
	}
}

// UpdateStatus marks the partition as faulty while the cloud is unreachable.
func (a *SecuritySystem) UpdateStatus(st coordinator.Status) {
	if st.Unavailable {
		a.setFault(true)
	}
}

func (a *SecuritySystem) setFault(fault bool) {
	if v := boolAs[int](fault); a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Info("alarm status", "partition", a.partition.UniqueID(), "fault", fault)
	}
}

func (a *SecuritySystem) updateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	target, ok := v.(int)
	if !ok {
		return nil, hap.JsonStatusInvalidValueInRequest
	}
	cmd, ok := a.cfg.targetCommand(target)
	if !ok {
		return nil, hap.JsonStatusResourceDoesNotExist
	}

	log.Info("changing partition state", "partition", a.partition.UniqueID(), "command", cmd)
	if err := a.partition.Handle(context.Background(), cmd); err != nil {
		commandErrorCounter.WithLabelValues(control.KindPartition.String()).Inc()
		log.Error("could not change partition state", "partition", a.partition.UniqueID(), "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	return nil, hap.JsonStatusSuccess
}

// currentState maps a partition into a HomeKit current state, or -1 while
// a command is changing it.
func currentState(part eldes.Partition) int {
	switch part.State {
	case eldes.StateDisarmed:
		return characteristic.SecuritySystemCurrentStateDisarmed
	case eldes.StateArmedAway, eldes.StateArmedHome:
		if part.HasUnacceptedPartitionAlarms {
			return characteristic.SecuritySystemCurrentStateAlarmTriggered
		}
		if part.State == eldes.StateArmedHome {
			return characteristic.SecuritySystemCurrentStateStayArm
		}
		return characteristic.SecuritySystemCurrentStateAwayArm
	default:
		return -1
	}
}

// targetState is the HomeKit target state matching a polled state, used to
// keep the target in sync when the partition is changed elsewhere.
func targetState(state eldes.PartitionState) int {
	switch state {
	case eldes.StateDisarmed:
		return characteristic.SecuritySystemTargetStateDisarm
	case eldes.StateArmedAway:
		return characteristic.SecuritySystemTargetStateAwayArm
	case eldes.StateArmedHome:
		return characteristic.SecuritySystemTargetStateStayArm
	default:
		return -1
	}
}
