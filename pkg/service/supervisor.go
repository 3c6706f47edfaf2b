package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/campuseq/campuseq-go/pkg/catalog"
	"github.com/campuseq/campuseq-go/pkg/registry"
	"github.com/campuseq/campuseq-go/pkg/store"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

// Supervisor defaults.
const (
	// DefaultHeartbeatTimeout is how long a connection may stay silent
	// before the supervisor closes it.
	DefaultHeartbeatTimeout = 60 * time.Second

	// DefaultSweepInterval is the spacing of supervisor passes.
	DefaultSweepInterval = time.Second

	// countersEvery spaces the catalog counters log line, in sweeps.
	countersEvery = 60
)

// Supervisor periodically closes connections whose last received frame
// is older than the timeout. Closing runs the standard transport close
// path, which transitions bound devices offline and persists; the
// supervisor itself never touches the catalog except in ResetAll.
type Supervisor struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
	store    *store.Store
	logger   *slog.Logger

	timeout  time.Duration
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSupervisor creates a supervisor with the default timeout and
// sweep interval.
func NewSupervisor(r *registry.Registry, c *catalog.Catalog, s *store.Store, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		registry: r,
		catalog:  c,
		store:    s,
		logger:   logger,
		timeout:  DefaultHeartbeatTimeout,
		interval: DefaultSweepInterval,
		stopCh:   make(chan struct{}),
	}
}

// SetTimeout overrides the heartbeat timeout. Call before Start.
func (s *Supervisor) SetTimeout(d time.Duration) { s.timeout = d }

// SetInterval overrides the sweep interval. Call before Start.
func (s *Supervisor) SetInterval(d time.Duration) { s.interval = d }

// Start launches the sweep loop.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		var sweeps int
		for {
			select {
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.sweep(now)
				sweeps++
				if sweeps%countersEvery == 0 {
					total, online := s.catalog.Counts()
					s.logger.Info("catalog counters",
						"devices", total, "online", online,
						"connections", s.registry.Count())
				}
			}
		}
	}()
}

// Stop halts the sweep loop. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// sweep closes every connection whose heartbeat is older than the
// timeout.
func (s *Supervisor) sweep(now time.Time) {
	for _, e := range s.registry.Snapshot() {
		if now.Sub(e.LastHeartbeat) <= s.timeout {
			continue
		}
		s.registry.MarkUnhealthy(e.ConnID)
		s.logger.Warn("heartbeat timeout",
			"conn_id", e.ConnID, "class", e.Class.String(),
			"device_id", e.DeviceID, "user_id", e.UserID,
			"idle", now.Sub(e.LastHeartbeat).Round(time.Second).String())
		if err := e.Conn.CloseWithReason(ReasonHeartbeatTimeout); err != nil {
			s.logger.Error("timeout close failed", "conn_id", e.ConnID, "err", err)
		}
	}
}

// ResetAll is the shutdown pass: every catalog entry is forced to
// offline with power off, the database follows, and every remaining
// connection is closed.
func (s *Supervisor) ResetAll() {
	ids := s.catalog.ResetAll()
	if err := s.store.ResetAllDevices(); err != nil {
		s.logger.Error("shutdown device reset failed", "err", err)
	}
	s.logger.Info("shutdown reset", "devices", len(ids))

	for _, e := range s.registry.Snapshot() {
		if err := e.Conn.CloseWithReason(ReasonShutdown); err != nil {
			s.logger.Error("shutdown close failed", "conn_id", e.ConnID, "err", err)
		}
	}
}

// deviceOffline is shared by the disconnect path: the catalog entry
// goes offline, registration untouched, and the database follows.
func deviceOffline(c *catalog.Catalog, st *store.Store, logger *slog.Logger, deviceID string) {
	c.SetOffline(deviceID)
	power := wire.PowerOff
	if d, ok := c.Get(deviceID); ok {
		power = d.Power
	}
	if err := st.UpdateDeviceState(deviceID, wire.StatusOffline, power); err != nil {
		logger.Error("persist offline state failed", "device_id", deviceID, "err", err)
	}
}
