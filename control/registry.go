package control

import (
	"context"
	"fmt"

	"github.com/caarlos0/homekit-eldes/coordinator"
)

// deviceSensors are created for every device, after its partitions, outputs
// and thermometers.
var deviceSensors = []SensorType{
	SensorConnectivity,
	SensorSignal,
	SensorBattery,
	SensorPhone,
	SensorEvents,
}

// Registry holds every entity, in a stable order.
type Registry struct {
	entities []Entity
	byID     map[string]Entity
}

// NewRegistry creates the entities for every device in snap, usually the
// first snapshot fetched.
func NewRegistry(snap coordinator.Snapshot, store Store, client Commander) *Registry {
	r := &Registry{byID: map[string]Entity{}}
	for _, imei := range snap.IMEIs {
		d, ok := snap.Devices[imei]
		if !ok {
			continue
		}
		for _, p := range d.Partitions {
			r.add(NewPartition(store, client, imei, p.ID))
		}
		for _, o := range d.Outputs {
			r.add(NewOutput(store, client, imei, o.ID))
		}
		for _, t := range d.Temperatures {
			r.add(NewTemperatureSensor(imei, t))
		}
		for _, typ := range deviceSensors {
			r.add(NewSensor(imei, typ))
		}
	}
	log.Info("entities registered", "count", len(r.entities))
	return r
}

func (r *Registry) add(e Entity) {
	if _, ok := r.byID[e.UniqueID()]; ok {
		log.Warn("duplicated entity, ignoring", "id", e.UniqueID())
		return
	}
	r.entities = append(r.entities, e)
	r.byID[e.UniqueID()] = e
}

// Entities returns all entities.
func (r *Registry) Entities() []Entity {
	return append([]Entity(nil), r.entities...)
}

// Get finds an entity by its unique id.
func (r *Registry) Get(id string) (Entity, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// Handle sends cmd to the entity with the given unique id.
func (r *Registry) Handle(ctx context.Context, id string, cmd Command) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	return e.Handle(ctx, cmd)
}

func (r *Registry) Partitions() []*Partition { return ofType[*Partition](r.entities) }
func (r *Registry) Outputs() []*Output { return ofType[*Output](r.entities) }
func (r *Registry) Sensors() []*Sensor { return ofType[*Sensor](r.entities) }

func ofType[T Entity](entities []Entity) []T {
	var result []T
	for _, e := range entities {
		if t, ok := e.(T); ok {
			result = append(result, t)
		}
	}
	return result
}
