// Package control exposes the polled devices as entities that can be
// rendered and commanded by a host, applying commands optimistically.
package control

import (
	"context"
	"errors"
	"os"
	"time"

	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/coordinator"
	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "control",
})

// SetLogLevel changes the level of the control logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

var (
	ErrNotActionable      = errors.New("entity does not accept commands")
	ErrUnsupportedCommand = errors.New("command not supported by entity")
	ErrUnknownEntity      = errors.New("unknown entity")
)

// Kind is the entity variant.
type Kind uint8

const (
	KindPartition Kind = iota + 1
	KindOutput
	KindSensor
)

func (k Kind) String() string {
	switch k {
	case KindPartition:
		return "partition"
	case KindOutput:
		return "output"
	default:
		return "sensor"
	}
}

// State is how an entity looks in a given snapshot.
type State struct {
	Value      any            `json:"state"`
	Available  bool           `json:"available"`
	Icon       string         `json:"icon,omitempty"`
	Unit       string         `json:"unit,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Entity is one of Partition, Output or Sensor.
type Entity interface {
	Kind() Kind
	UniqueID() string
	Name(snap coordinator.Snapshot) string
	Render(snap coordinator.Snapshot) State
	Handle(ctx context.Context, cmd Command) error
}

// Store holds the published snapshot and the command overlays on top of it.
// It is implemented by *coordinator.Coordinator.
type Store interface {
	Snapshot() coordinator.Snapshot
	Hold(imei string, apply func(d *eldes.Device) bool) (*coordinator.Intent, error)
}

// Commander sends commands to the cloud. It is implemented by *eldes.Client.
type Commander interface {
	SetAlarm(ctx context.Context, mode eldes.AlarmMode, imei string, index int) error
	SetOutput(ctx context.Context, imei string, output int, enable bool) error
}
