package control

import (
	"context"
	"fmt"

	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

// Partition is an alarm partition that can be armed and disarmed.
type Partition struct {
	store  Store
	client Commander
	imei   string
	id     int
}

func NewPartition(store Store, client Commander, imei string, id int) *Partition {
	return &Partition{
		store:  store,
		client: client,
		imei:   imei,
		id:     id,
	}
}

func (p *Partition) Kind() Kind { return KindPartition }
func (p *Partition) IMEI() string { return p.imei }
func (p *Partition) ID() int { return p.id }

func (p *Partition) UniqueID() string {
	return fmt.Sprintf("%s_zone_%d", p.imei, p.id)
}

func (p *Partition) Name(snap coordinator.Snapshot) string {
	if part, ok := snap.Partition(p.imei, p.id); ok && part.Name != "" {
		return part.Name
	}
	return fmt.Sprintf("Partition %d", p.id)
}

// Get returns the partition in the given snapshot.
func (p *Partition) Get(snap coordinator.Snapshot) (eldes.Partition, bool) {
	return snap.Partition(p.imei, p.id)
}

func (p *Partition) Render(snap coordinator.Snapshot) State {
	part, ok := p.Get(snap)
	if !ok {
		return State{}
	}
	return State{
		Value:     part.State.String(),
		Available: true,
		Attributes: map[string]any{
			"armed":                        part.Armed,
			"armStay":                      part.ArmStay,
			"hasUnacceptedPartitionAlarms": part.HasUnacceptedPartitionAlarms,
		},
	}
}

func (p *Partition) Handle(ctx context.Context, cmd Command) error {
	switch cmd {
	case CommandDisarm:
		return p.Disarm(ctx)
	case CommandArmAway:
		return p.ArmAway(ctx)
	case CommandArmHome:
		return p.ArmHome(ctx)
	default:
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, p.UniqueID())
	}
}

func (p *Partition) Disarm(ctx context.Context) error {
	return p.set(ctx, eldes.ModeDisarm, eldes.StateDisarming)
}

func (p *Partition) ArmAway(ctx context.Context) error {
	return p.set(ctx, eldes.ModeArm, eldes.StateArming)
}

func (p *Partition) ArmHome(ctx context.Context) error {
	return p.set(ctx, eldes.ModeArmStay, eldes.StateArming)
}

// Index returns the position of the partition in its device's list, which
// is what the alarm actions expect as partitionIndex.
func (p *Partition) Index(snap coordinator.Snapshot) (int, bool) {
	d, ok := snap.Devices[p.imei]
	if !ok {
		return 0, false
	}
	return d.PartitionIndex(p.id)
}

// set shows the transient state right away and sends the command. On
// success the transient state is kept until a poll started afterwards lands;
// on failure the partition goes back to what it was.
func (p *Partition) set(ctx context.Context, mode eldes.AlarmMode, transient eldes.PartitionState) error {
	snap := p.store.Snapshot()
	before, ok := p.Get(snap)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, p.UniqueID())
	}
	index, _ := p.Index(snap)

	intent, err := p.store.Hold(p.imei, func(d *eldes.Device) bool {
		part := d.Partition(p.id)
		if part == nil {
			return false
		}
		part.State = transient
		return true
	})
	if err != nil {
		return fmt.Errorf("could not %s partition %d: %w", mode, p.id, err)
	}
	log.Info("changing partition state", "imei", p.imei, "partition", p.id, "index", index, "from", before.State, "mode", mode)

	if err := p.client.SetAlarm(ctx, mode, p.imei, index); err != nil {
		intent.Release()
		log.Error(
			"could not change partition state, rolled back",
			"imei", p.imei,
			"partition", p.id,
			"state", before.State,
			"replaced", intent.Replaced(),
			"err", err,
		)
		return fmt.Errorf("could not %s partition %d: %w", mode, p.id, err)
	}
	intent.Settle()
	return nil
}
