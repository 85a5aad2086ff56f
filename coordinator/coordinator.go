// Package coordinator polls the Eldes cloud and keeps the latest snapshot of
// every device, with optimistic command overlays applied on top of it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	eldes "github.com/caarlos0/homekit-eldes"
	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "coordinator",
})

// SetLogLevel changes the level of the coordinator logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

const (
	DefaultInterval       = 30 * time.Second
	MinInterval           = 10 * time.Second
	MaxInterval           = 300 * time.Second
	DefaultEventsListSize = 10
	MinEventsListSize     = 5
	MaxEventsListSize     = 50
	DefaultMaxFailures    = 5
)

var (
	ErrNoData        = errors.New("no data fetched yet")
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownTarget = errors.New("unknown partition or output")
)

// Fetcher is the part of the cloud client the coordinator polls.
type Fetcher interface {
	DeviceInfo(ctx context.Context, imei string) (eldes.DeviceInfo, error)
	Partitions(ctx context.Context, imei string) ([]eldes.Partition, error)
	Outputs(ctx context.Context, imei string) ([]eldes.Output, error)
	Temperatures(ctx context.Context, imei string) ([]eldes.TemperatureSensor, error)
	Events(ctx context.Context, imei string, count int) ([]eldes.Event, error)
}

type Option func(*Coordinator)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

// WithEventsListSize sets how many events are fetched per device.
func WithEventsListSize(n int) Option {
	return func(c *Coordinator) { c.events = n }
}

// WithMaxFailures sets how many consecutive failures are tolerated before the
// devices are reported as unavailable.
func WithMaxFailures(n int) Option {
	return func(c *Coordinator) { c.maxFailures = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs the polling loop. The snapshot it publishes is the last
// polled data (the base) with the active intents applied in creation order.
type Coordinator struct {
	client      Fetcher
	imeis       []string
	interval    time.Duration
	events      int
	maxFailures int
	now         func() time.Time

	fetching atomic.Bool
	cycles   atomic.Uint64
	force    chan struct{}

	mu         sync.Mutex
	base       map[string]eldes.Device
	intents    []*Intent
	seq        uint64
	published  Snapshot
	status     Status
	subs       map[int]*subscriber
	statusSubs map[int]func(Status)
	nextSub    int
}

// New creates a coordinator for the given devices. It does not fetch
// anything until FirstRefresh, Refresh or Run is called.
func New(client Fetcher, imeis []string, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		client:      client,
		imeis:       slices.Clone(imeis),
		interval:    DefaultInterval,
		events:      DefaultEventsListSize,
		maxFailures: DefaultMaxFailures,
		now:         time.Now,
		force:       make(chan struct{}, 1),
		subs:        map[int]*subscriber{},
		statusSubs:  map[int]func(Status){},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interval < MinInterval || c.interval > MaxInterval {
		return nil, fmt.Errorf("invalid interval %s: must be between %s and %s", c.interval, MinInterval, MaxInterval)
	}
	if c.events < MinEventsListSize || c.events > MaxEventsListSize {
		return nil, fmt.Errorf("invalid events list size %d: must be between %d and %d", c.events, MinEventsListSize, MaxEventsListSize)
	}
	if c.maxFailures < 0 {
		return nil, fmt.Errorf("invalid max failures %d", c.maxFailures)
	}
	if len(c.imeis) == 0 {
		return nil, errors.New("no devices to poll")
	}
	return c, nil
}

// IMEIs returns the polled devices, in polling order.
func (c *Coordinator) IMEIs() []string {
	return slices.Clone(c.imeis)
}

// Interval is the polling interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// FirstRefresh blocks until the first poll finishes and returns its error,
// which can be checked with eldes.KindOf to decide between retrying later and
// asking for new credentials.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	st := c.Refresh(ctx)
	if st.Skipped {
		return errors.New("a refresh is already running")
	}
	if st.LastError != nil {
		return fmt.Errorf("could not fetch initial data: %w", st.LastError)
	}
	return nil
}

// Run polls every interval, and whenever RequestRefresh is called, until ctx
// is done. It returns an error when the credentials are rejected.
func (c *Coordinator) Run(ctx context.Context) error {
	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	log.Info("polling", "devices", c.imeis, "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		case <-c.force:
			log.Debug("forced refresh")
		}
		st := c.Refresh(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if st.NeedsReauth {
			return fmt.Errorf("could not refresh: %w", st.LastError)
		}
	}
}

// RequestRefresh asks Run for a refresh as soon as possible. It never blocks,
// and requests made while one is pending are merged.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.force <- struct{}{}:
	default:
	}
}

// Refresh runs one poll cycle. If another cycle is running it returns right
// away with Skipped set; the trigger is dropped, not queued.
func (c *Coordinator) Refresh(ctx context.Context) Status {
	if !c.fetching.CompareAndSwap(false, true) {
		log.Debug("refresh already running, skipping")
		st := c.Status()
		st.Skipped = true
		return st
	}
	defer c.fetching.Store(false)

	cycle := c.cycles.Add(1)
	devices, err := c.fetch(ctx)

	c.mu.Lock()
	if err != nil {
		st := c.failLocked(err)
		c.mu.Unlock()
		c.notifyStatus(st)
		return st
	}

	for imei, dev := range devices {
		dev.Version = c.base[imei].Version + 1
		devices[imei] = dev
	}
	c.base = devices
	c.intents = slices.DeleteFunc(c.intents, func(i *Intent) bool {
		return i.settled != 0 && i.settled < cycle
	})
	c.status = Status{LastRefresh: c.now()}
	st := c.status
	snap := c.rebuildLocked()
	c.mu.Unlock()

	log.Debug("refreshed", "cycle", cycle, "seq", snap.Seq)
	c.notifyStatus(st)
	c.publish(snap)
	return st
}

func (c *Coordinator) fetch(ctx context.Context) (map[string]eldes.Device, error) {
	devices := make(map[string]eldes.Device, len(c.imeis))
	for _, imei := range c.imeis {
		dev := eldes.Device{IMEI: imei}
		var err error
		if dev.Info, err = c.client.DeviceInfo(ctx, imei); err != nil {
			return nil, fmt.Errorf("could not get info of %s: %w", imei, err)
		}
		if dev.Partitions, err = c.client.Partitions(ctx, imei); err != nil {
			return nil, fmt.Errorf("could not get partitions of %s: %w", imei, err)
		}
		if dev.Outputs, err = c.client.Outputs(ctx, imei); err != nil {
			return nil, fmt.Errorf("could not get outputs of %s: %w", imei, err)
		}
		if dev.Temperatures, err = c.client.Temperatures(ctx, imei); err != nil {
			return nil, fmt.Errorf("could not get temperatures of %s: %w", imei, err)
		}
		if dev.Events, err = c.client.Events(ctx, imei, c.events); err != nil {
			return nil, fmt.Errorf("could not get events of %s: %w", imei, err)
		}
		devices[imei] = dev
	}
	return devices, nil
}

func (c *Coordinator) failLocked(err error) Status {
	kind := eldes.KindOf(err)
	st := c.status
	st.LastError = err
	st.Kind = kind
	st.ConsecutiveFailures++

	switch kind {
	case eldes.KindAuthentication:
		st.NeedsReauth = true
		log.Error("credentials rejected, re-authentication needed", "err", err)
	case eldes.KindTransient:
		log.Warn("refresh failed, will retry", "failures", st.ConsecutiveFailures, "err", err)
	default:
		log.Warn("unexpected refresh error, will retry", "kind", kind, "failures", st.ConsecutiveFailures, "err", err)
	}
	if st.ConsecutiveFailures > c.maxFailures && !st.Unavailable {
		st.Unavailable = true
		log.Error("devices unavailable", "failures", st.ConsecutiveFailures, "err", err)
	}
	c.status = st
	return st
}

// rebuildLocked applies the intents on top of the base and stores the
// result as the published snapshot.
func (c *Coordinator) rebuildLocked() Snapshot {
	c.seq++
	snap := Snapshot{
		Seq:     c.seq,
		IMEIs:   slices.Clone(c.imeis),
		Devices: make(map[string]eldes.Device, len(c.base)),
	}
	for imei, dev := range c.base {
		dev = dev.Clone()
		for _, i := range c.intents {
			if i.imei == imei {
				i.apply(&dev)
			}
		}
		snap.Devices[imei] = dev
	}
	c.published = snap
	return snap
}

// Snapshot returns a copy of the latest published snapshot. It is empty
// (Seq 0) until the first successful refresh.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published.Clone()
}

// Device returns a copy of a device from the latest published snapshot.
func (c *Coordinator) Device(imei string) (eldes.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published.Device(imei)
}

// Status returns the report of the last finished refresh.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Hold installs an intent for a device and publishes the result right away.
// apply changes the device in place and reports whether its target exists;
// it is called again every time the snapshot is rebuilt, so it must be
// idempotent. The intent stays until it is released, or settled and
// superseded by a later poll.
func (c *Coordinator) Hold(imei string, apply func(d *eldes.Device) bool) (*Intent, error) {
	c.mu.Lock()
	if c.base == nil {
		c.mu.Unlock()
		return nil, ErrNoData
	}
	base, ok := c.base[imei]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, imei)
	}
	trial := base.Clone()
	if !apply(&trial) {
		c.mu.Unlock()
		return nil, ErrUnknownTarget
	}
	i := &Intent{
		c:       c,
		imei:    imei,
		apply:   func(d *eldes.Device) { apply(d) },
		version: base.Version,
	}
	c.intents = append(c.intents, i)
	snap := c.rebuildLocked()
	c.mu.Unlock()

	c.publish(snap)
	return i, nil
}

// Subscribe registers fn to receive every published snapshot. If a snapshot
// was already published, fn receives it before Subscribe returns.
//
// fn is never called concurrently with itself and never receives a snapshot
// older than one it already got. It must not call Hold, directly or through
// a command, from the same goroutine.
func (c *Coordinator) Subscribe(fn func(Snapshot)) (cancel func()) {
	s := &subscriber{fn: fn}
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	snap := c.published
	c.mu.Unlock()

	if snap.Seq > 0 {
		s.deliver(snap)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// SubscribeStatus registers fn to receive every status report.
func (c *Coordinator) SubscribeStatus(fn func(Status)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.statusSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusSubs, id)
	}
}

func (c *Coordinator) publish(snap Snapshot) {
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.deliver(snap)
	}
}

func (c *Coordinator) notifyStatus(st Status) {
	c.mu.Lock()
	fns := make([]func(Status), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

type subscriber struct {
	mu   sync.Mutex
	last uint64
	fn   func(Snapshot)
}

func (s *subscriber) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Seq <= s.last {
		return
	}
	s.last = snap.Seq
	s.fn(snap.Clone())
}
