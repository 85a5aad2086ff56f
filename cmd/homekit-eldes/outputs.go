package main

import (
	"context"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

// OutputSwitch is a HomeKit switch for a SWITCH output.
type OutputSwitch struct {
	*accessory.Switch
	output *control.Output
}

func newOutputSwitch(info accessory.Info, output *control.Output) *OutputSwitch {
	a := &OutputSwitch{
		Switch: accessory.NewSwitch(info),
		output: output,
	}
	a.Switch.Switch.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
		v, ok := value.(bool)
		if !ok {
			return nil, hap.JsonStatusInvalidValueInRequest
		}
		if err := output.Set(context.Background(), v); err != nil {
			commandErrorCounter.WithLabelValues(control.KindOutput.String()).Inc()
			log.Error("could not switch output", "output", output.UniqueID(), "on", v, "err", err)
			return nil, hap.JsonStatusResourceBusy
		}
		return nil, hap.JsonStatusSuccess
	}
	return a
}

func (a *OutputSwitch) Update(snap coordinator.Snapshot) {
	out, ok := a.output.Get(snap)
	if !ok {
		return
	}
	outputStateGauge.WithLabelValues(a.output.IMEI(), out.Name).Set(boolAs[float64](out.State))
	if a.Switch.Switch.On.Value() != out.State {
		a.Switch.Switch.On.SetValue(out.State)
		log.Info("output", "name", out.Name, "on", out.State, "fault", out.HasFault)
	}
}

func setupOutputs(cfg Config, registry *control.Registry, snap coordinator.Snapshot) []*OutputSwitch {
	var result []*OutputSwitch
	for _, output := range registry.Outputs() {
		out, ok := output.Get(snap)
		if !ok || !out.Actionable() {
			continue
		}
		a := newOutputSwitch(accessory.Info{
			Name:         output.Name(snap),
			SerialNumber: output.UniqueID(),
			Manufacturer: manufacturer,
		}, output)
		a.Id = accessoryID(output.UniqueID())
		a.Update(snap)
		result = append(result, a)
	}
	return result
}
