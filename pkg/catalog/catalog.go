// Package catalog maintains the in-memory roster of registered
// equipment with live status.
//
// The catalog is the single owner of device records: the connection
// registry refers to devices by id only and resolves through the
// catalog, so an offline transition is a single-owner mutation.
// Status and power are mutated together under one lock; readers may
// observe an older state but never a torn status/power combination.
package catalog

import (
	"errors"
	"sync"
	"time"

	"github.com/campuseq/campuseq-go/pkg/wire"
)

// ErrUnknownDevice indicates a device id absent from the catalog.
// Devices are loaded from the database at startup; the core never
// creates them, so an unknown id is rejected at online-time.
var ErrUnknownDevice = errors.New("unknown device")

// Device is one catalog entry.
type Device struct {
	// ID is the stable device identifier.
	ID string

	// Type is the device type (projector, aircon, camera, light, ...).
	Type string

	// Location is the room label.
	Location string

	// Registration is the registration state; only registered and
	// pending devices may connect.
	Registration wire.Registration

	// Status is the online state.
	Status wire.Status

	// Power is the power state.
	Power wire.Power

	// LastHeartbeat is the time of the last frame received from this
	// device's connection.
	LastHeartbeat time.Time

	// ThresholdWatts is the per-device alarm threshold; zero means no
	// threshold is set.
	ThresholdWatts float64

	// EnergyTotal is the accumulated energy counter in watt-hours.
	EnergyTotal float64
}

// Catalog is the device roster. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{devices: make(map[string]*Device)}
}

// Load replaces the roster with the given devices, as read from the
// database at startup.
func (c *Catalog) Load(devices []Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		c.devices[d.ID] = &d
	}
}

// Get returns a copy of the device record.
func (c *Catalog) Get(id string) (Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// SetOnline transitions a device to online, keeping its power state,
// and stamps the heartbeat. Fails for unknown devices and for devices
// whose registration state forbids connecting.
func (c *Catalog) SetOnline(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[id]
	if !ok {
		return ErrUnknownDevice
	}
	if !d.Registration.MayConnect() {
		return errors.New("device not registered")
	}
	d.Status = wire.StatusOnline
	d.LastHeartbeat = time.Now()
	return nil
}

// SetOffline transitions a device to offline. The registration record
// is unchanged. Unknown ids are ignored; the close path may run after
// a failed bind.
func (c *Catalog) SetOffline(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.devices[id]; ok {
		d.Status = wire.StatusOffline
	}
}

// SetState updates status and power together. The single write under
// the lock is what guarantees readers never see a torn combination.
func (c *Catalog) SetState(id string, status wire.Status, power wire.Power) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[id]
	if !ok {
		return ErrUnknownDevice
	}
	d.Status = status
	d.Power = power
	d.LastHeartbeat = time.Now()
	return nil
}

// SetPower updates only the power state, e.g. after a successful
// control response.
func (c *Catalog) SetPower(id string, power wire.Power) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[id]
	if !ok {
		return ErrUnknownDevice
	}
	d.Power = power
	return nil
}

// Touch stamps the device heartbeat.
func (c *Catalog) Touch(id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.devices[id]; ok {
		d.LastHeartbeat = at
	}
}

// SetThreshold sets the per-device alarm threshold in watts.
func (c *Catalog) SetThreshold(id string, watts float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[id]
	if !ok {
		return ErrUnknownDevice
	}
	d.ThresholdWatts = watts
	return nil
}

// AddEnergy increments the device energy counter and returns the
// device's threshold for alarm evaluation.
func (c *Catalog) AddEnergy(id string, wattHours float64) (threshold float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[id]
	if !ok {
		return 0, ErrUnknownDevice
	}
	d.EnergyTotal += wattHours
	return d.ThresholdWatts, nil
}

// Snapshot returns copies of all device records.
func (c *Catalog) Snapshot() []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, *d)
	}
	return out
}

// Counts returns the total and online device counts, for the
// supervisor's periodic counters log.
func (c *Catalog) Counts() (total, online int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, d := range c.devices {
		total++
		if d.Status == wire.StatusOnline {
			online++
		}
	}
	return total, online
}

// ResetAll forces every device to offline with power off, for the
// shutdown reset. Returns the ids that were touched so the store can
// be updated in the same order.
func (c *Catalog) ResetAll() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.devices))
	for _, d := range c.devices {
		d.Status = wire.StatusOffline
		d.Power = wire.PowerOff
		ids = append(ids, d.ID)
	}
	return ids
}
