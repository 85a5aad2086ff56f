package coordinator

import (
	eldes "github.com/caarlos0/homekit-eldes"
	"golang.org/x/exp/slices"
)

// Intent is an optimistic change shown on top of the polled data while a
// command is in flight.
type Intent struct {
	c       *Coordinator
	imei    string
	apply   func(d *eldes.Device)
	version uint64

	// settled is the number of poll cycles started when the intent was
	// settled; zero while the command is in flight.
	settled uint64
}

// Settle marks the command as accepted by the cloud. The change stays
// visible until the first poll cycle started after this call lands, and a
// refresh is requested so that happens soon.
func (i *Intent) Settle() {
	c := i.c
	c.mu.Lock()
	if slices.Contains(c.intents, i) && i.settled == 0 {
		i.settled = c.cycles.Load()
	}
	c.mu.Unlock()
	c.RequestRefresh()
}

// Release drops the change and publishes the snapshot without it, which
// shows either the state from before the command or whatever a poll
// brought in meanwhile.
func (i *Intent) Release() {
	c := i.c
	c.mu.Lock()
	idx := slices.Index(c.intents, i)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.intents = slices.Delete(c.intents, idx, idx+1)
	snap := c.rebuildLocked()
	c.mu.Unlock()

	c.publish(snap)
}

// Replaced reports whether a poll replaced the device since the intent was
// created.
func (i *Intent) Replaced() bool {
	c := i.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base[i.imei].Version != i.version
}

// Active reports whether the change is still applied to the snapshot.
func (i *Intent) Active() bool {
	c := i.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.intents, i)
}
