// Command equipd is the campus equipment backend server.
//
// It listens on one TCP socket and multiplexes two client populations:
// embedded equipment simulators and operator consoles. Devices are
// loaded from the SQLite database at startup; unknown devices cannot
// register themselves.
//
// Usage:
//
//	equipd [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-listen string        TCP listen address (default ":9000")
//	-db string            SQLite database path (default "campuseq.db")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Append binary protocol events to this file
//	-mdns                 Advertise the server over mDNS
//
// Examples:
//
//	# Start with defaults
//	equipd
//
//	# Custom port and database, verbose logging
//	equipd -listen :9100 -db /var/lib/campuseq/campuseq.db -log-level debug
//
//	# Record the wire traffic for later analysis with equiplog
//	equipd -protocol-log /tmp/equipd.elog
//
// The process exits 0 on a clean shutdown and non-zero when startup
// fails (bad config, port bind, database open, catalog load).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/campuseq/campuseq-go/pkg/config"
	"github.com/campuseq/campuseq-go/pkg/discovery"
	"github.com/campuseq/campuseq-go/pkg/log"
	"github.com/campuseq/campuseq-go/pkg/service"
	"github.com/campuseq/campuseq-go/pkg/store"
	"github.com/campuseq/campuseq-go/pkg/version"
)

func main() {
	configFile := flag.String("config", "", "configuration file path (YAML)")
	listen := flag.String("listen", "", "TCP listen address")
	dbPath := flag.String("db", "", "SQLite database path")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	protocolLog := flag.String("protocol-log", "", "append binary protocol events to this file")
	mdns := flag.Bool("mdns", false, "advertise the server over mDNS")
	flag.Parse()

	if err := run(*configFile, *listen, *dbPath, *logLevel, *protocolLog, *mdns); err != nil {
		fmt.Fprintf(os.Stderr, "equipd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, listen, dbPath, logLevel, protocolLog string, mdns bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Flags override the file.
	if listen != "" {
		cfg.Listen = listen
	}
	if dbPath != "" {
		cfg.Database = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if protocolLog != "" {
		cfg.Log.ProtocolFile = protocolLog
	}
	if mdns {
		cfg.Discovery.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))

	var protoLog log.Logger
	if cfg.Log.ProtocolFile != "" {
		fl, err := log.NewFileLogger(cfg.Log.ProtocolFile)
		if err != nil {
			return fmt.Errorf("failed to open protocol log: %w", err)
		}
		defer fl.Close()
		protoLog = fl
	}

	st, err := store.New(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := service.New(service.Config{
		Address:          cfg.Listen,
		Store:            st,
		Logger:           logger,
		ProtocolLog:      protoLog,
		HeartbeatTimeout: cfg.HeartbeatTimeout.Std(),
		SweepInterval:    cfg.SweepInterval.Std(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	if cfg.Discovery.Enabled {
		adv := discovery.NewAdvertiser()
		if err := startAdvertisement(adv, cfg.Discovery.Instance, svc); err != nil {
			logger.Warn("mDNS advertisement failed", "err", err)
		} else {
			defer adv.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return svc.Stop()
}

func startAdvertisement(adv *discovery.Advertiser, instance string, svc *service.Service) error {
	addr, ok := svc.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("listener is not TCP")
	}
	return adv.Start(instance, addr.Port, version.Current)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
