package control

import (
	"context"
	"fmt"

	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

// Output is a controllable output of a device. Only SWITCH outputs accept
// commands.
type Output struct {
	store  Store
	client Commander
	imei   string
	id     int
}

func NewOutput(store Store, client Commander, imei string, id int) *Output {
	return &Output{
		store:  store,
		client: client,
		imei:   imei,
		id:     id,
	}
}

func (o *Output) Kind() Kind { return KindOutput }
func (o *Output) IMEI() string { return o.imei }
func (o *Output) ID() int { return o.id }

func (o *Output) UniqueID() string {
	return fmt.Sprintf("%s_output_%d", o.imei, o.id)
}

func (o *Output) Name(snap coordinator.Snapshot) string {
	if out, ok := snap.Output(o.imei, o.id); ok && out.Name != "" {
		return out.Name
	}
	return fmt.Sprintf("Output %d", o.id)
}

// Get returns the output in the given snapshot.
func (o *Output) Get(snap coordinator.Snapshot) (eldes.Output, bool) {
	return snap.Output(o.imei, o.id)
}

func (o *Output) Render(snap coordinator.Snapshot) State {
	out, ok := o.Get(snap)
	if !ok {
		return State{}
	}
	return State{
		Value:     out.State,
		Available: true,
		Icon:      out.Icon.String(),
		Attributes: map[string]any{
			"hasFault":    out.HasFault,
			"outputState": out.State,
			"type":        out.Type,
		},
	}
}

func (o *Output) Handle(ctx context.Context, cmd Command) error {
	switch cmd {
	case CommandOn:
		return o.Set(ctx, true)
	case CommandOff:
		return o.Set(ctx, false)
	default:
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, o.UniqueID())
	}
}

// Set switches the output, showing the new state right away. A failure
// always puts the previous state back.
func (o *Output) Set(ctx context.Context, enable bool) error {
	out, ok := o.Get(o.store.Snapshot())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, o.UniqueID())
	}
	if !out.Actionable() {
		return fmt.Errorf("%w: %s is a %s output", ErrNotActionable, o.UniqueID(), out.Type)
	}

	intent, err := o.store.Hold(o.imei, func(d *eldes.Device) bool {
		out := d.Output(o.id)
		if out == nil {
			return false
		}
		out.State = enable
		return true
	})
	if err != nil {
		return fmt.Errorf("could not switch output %d: %w", o.id, err)
	}
	log.Info("switching output", "imei", o.imei, "output", o.id, "from", out.State, "to", enable)

	if err := o.client.SetOutput(ctx, o.imei, o.id, enable); err != nil {
		intent.Release()
		log.Error("could not switch output, rolled back", "imei", o.imei, "output", o.id, "state", out.State, "err", err)
		return fmt.Errorf("could not switch output %d: %w", o.id, err)
	}
	intent.Settle()
	return nil
}
