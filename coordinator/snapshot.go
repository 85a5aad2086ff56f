package coordinator

import (
	"time"

	eldes "github.com/caarlos0/homekit-eldes"
	"golang.org/x/exp/slices"
)

// Snapshot is the state of every polled device at one point in time.
// Seq increases every time a new snapshot is published.
type Snapshot struct {
	Seq     uint64
	IMEIs   []string
	Devices map[string]eldes.Device
}

// Device returns a copy of the given device.
func (s Snapshot) Device(imei string) (eldes.Device, bool) {
	d, ok := s.Devices[imei]
	if !ok {
		return eldes.Device{}, false
	}
	return d.Clone(), true
}

// Partition returns a partition of a device.
func (s Snapshot) Partition(imei string, id int) (eldes.Partition, bool) {
	d, ok := s.Devices[imei]
	if !ok {
		return eldes.Partition{}, false
	}
	if p := d.Partition(id); p != nil {
		return *p, true
	}
	return eldes.Partition{}, false
}

// Output returns an output of a device.
func (s Snapshot) Output(imei string, id int) (eldes.Output, bool) {
	d, ok := s.Devices[imei]
	if !ok {
		return eldes.Output{}, false
	}
	if o := d.Output(id); o != nil {
		return *o, true
	}
	return eldes.Output{}, false
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	devices := make(map[string]eldes.Device, len(s.Devices))
	for imei, d := range s.Devices {
		devices[imei] = d.Clone()
	}
	return Snapshot{
		Seq:     s.Seq,
		IMEIs:   slices.Clone(s.IMEIs),
		Devices: devices,
	}
}

// Status is the report of the last refresh.
type Status struct {
	LastRefresh         time.Time
	LastError           error
	Kind                eldes.ErrorKind
	ConsecutiveFailures int

	// NeedsReauth is set when the credentials were rejected.
	NeedsReauth bool
	// Unavailable is set once the consecutive failures exceed the maximum.
	Unavailable bool
	// Skipped is set when the refresh did not run because another one was
	// in progress.
	Skipped bool
}

// OK reports whether the last refresh succeeded.
func (s Status) OK() bool {
	return s.LastError == nil
}
