package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/campuseq/campuseq-go/pkg/catalog"
	"github.com/campuseq/campuseq-go/pkg/log"
	"github.com/campuseq/campuseq-go/pkg/registry"
	"github.com/campuseq/campuseq-go/pkg/store"
	"github.com/campuseq/campuseq-go/pkg/transport"
)

// Config carries the service's startup parameters.
type Config struct {
	// Address is the TCP listen address, e.g. ":9000".
	Address string

	// Store is the opened database of record.
	Store *store.Store

	// Logger receives operational log records. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// ProtocolLog receives wire-level protocol events (optional).
	ProtocolLog log.Logger

	// HeartbeatTimeout overrides the 60s supervisor timeout.
	HeartbeatTimeout time.Duration

	// SweepInterval overrides the 1s supervisor interval.
	SweepInterval time.Duration
}

// Service is the running equipment backend: one TCP listener
// multiplexing equipment simulators and operator consoles, backed by
// the registry, catalog and store.
type Service struct {
	registry   *registry.Registry
	catalog    *catalog.Catalog
	store      *store.Store
	handler    *Handler
	supervisor *Supervisor
	server     *transport.Server
	logger     *slog.Logger
}

// New assembles a service and loads the device roster from the store.
// A load failure is an init failure; the caller should exit non-zero.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf(":%d", transport.DefaultPort)
	}

	reg := registry.New()
	cat := catalog.New()

	devices, err := cfg.Store.LoadEquipment()
	if err != nil {
		return nil, fmt.Errorf("failed to load equipment roster: %w", err)
	}
	cat.Load(devices)
	logger.Info("catalog loaded", "devices", len(devices))

	svc := &Service{
		registry: reg,
		catalog:  cat,
		store:    cfg.Store,
		handler:  NewHandler(reg, cat, cfg.Store, logger),
		logger:   logger,
	}

	svc.supervisor = NewSupervisor(reg, cat, cfg.Store, logger)
	if cfg.HeartbeatTimeout > 0 {
		svc.supervisor.SetTimeout(cfg.HeartbeatTimeout)
	}
	if cfg.SweepInterval > 0 {
		svc.supervisor.SetInterval(cfg.SweepInterval)
	}

	svc.server = transport.NewServer(transport.ServerConfig{
		Address:      cfg.Address,
		Logger:       cfg.ProtocolLog,
		OnConnect:    svc.onConnect,
		OnDisconnect: svc.onDisconnect,
		OnMessage:    svc.onMessage,
		OnError:      svc.onError,
	})
	return svc, nil
}

// Start binds the listener and launches the supervisor. A bind
// failure is an init failure; the caller should exit non-zero.
func (s *Service) Start(ctx context.Context) error {
	if err := s.server.Start(ctx); err != nil {
		return err
	}
	s.supervisor.Start()
	s.logger.Info("server listening", "addr", s.server.Addr().String())
	return nil
}

// Stop shuts the service down: the supervisor halts, the reset-all
// pass forces every device offline and closes every connection, and
// the accept socket is closed last.
func (s *Service) Stop() error {
	s.supervisor.Stop()
	s.supervisor.ResetAll()
	err := s.server.Stop()
	s.logger.Info("server stopped")
	return err
}

// Addr returns the bound listen address.
func (s *Service) Addr() net.Addr {
	return s.server.Addr()
}

// Registry exposes the connection registry, for inspection tooling.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Catalog exposes the device catalog, for inspection tooling.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

func (s *Service) onConnect(conn *transport.ServerConn) {
	s.registry.Add(conn)
	s.logger.Debug("connection accepted",
		"conn_id", conn.ConnID(), "remote", conn.RemoteAddr().String())
}

// onDisconnect runs the standard close path: the binding is removed
// and a bound device goes offline in catalog and store. Registration
// state is untouched, so the device may come back.
func (s *Service) onDisconnect(conn *transport.ServerConn) {
	deviceID, wasEquipment := s.registry.Unbind(conn.ConnID())
	if wasEquipment {
		deviceOffline(s.catalog, s.store, s.logger, deviceID)
	}
	s.logger.Debug("connection closed",
		"conn_id", conn.ConnID(), "device_id", deviceID)
}

func (s *Service) onMessage(conn *transport.ServerConn, body []byte) {
	err := s.handler.Handle(conn, body)
	if err == nil {
		return
	}
	if errors.Is(err, ErrProtocol) {
		s.logger.Warn("protocol violation",
			"conn_id", conn.ConnID(), "remote", conn.RemoteAddr().String(), "err", err)
		_ = conn.CloseWithReason(ReasonProtocolError)
		return
	}
	s.logger.Warn("handler error", "conn_id", conn.ConnID(), "err", err)
}

func (s *Service) onError(conn *transport.ServerConn, err error) {
	if conn == nil {
		s.logger.Error("accept error", "err", err)
		return
	}
	s.logger.Debug("connection error", "conn_id", conn.ConnID(), "err", err)
}
