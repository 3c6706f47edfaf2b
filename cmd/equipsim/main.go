// Command equipsim simulates one piece of campus equipment.
//
// The simulator connects to the backend, announces its device id,
// then keeps the session alive with heartbeats and periodic power
// reports. Control commands from operators are executed against the
// simulated power state and answered with control responses. A lost
// session is re-established with jittered exponential backoff.
//
// Usage:
//
//	equipsim [flags]
//
// Flags:
//
//	-addr string       Server address (default "localhost:9000")
//	-discover          Find the server over mDNS instead of -addr
//	-device string     Device id (required)
//	-location string   Room label sent with the online announce (default "room_A")
//	-type string       Device type sent with the online announce (default "projector")
//	-heartbeat duration  Heartbeat interval (default 20s)
//	-report duration   Power report interval; 0 disables reports (default 1m)
//	-watts float       Simulated power draw while turned on (default 120)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Simulate a registered projector
//	equipsim -device proj_101
//
//	# A hungry air conditioner reporting every 10s
//	equipsim -device aircon_3 -type aircon -watts 900 -report 10s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/campuseq/campuseq-go/pkg/connection"
	"github.com/campuseq/campuseq-go/pkg/discovery"
	"github.com/campuseq/campuseq-go/pkg/transport"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

const (
	onlineReplyTimeout = 10 * time.Second
	receivePoll        = time.Second
)

type simulator struct {
	addr     string
	deviceID string
	location string
	devType  string

	heartbeatEvery time.Duration
	reportEvery    time.Duration
	watts          float64

	logger *slog.Logger

	mu      sync.Mutex
	powerOn bool
}

func main() {
	addr := flag.String("addr", "localhost:9000", "server address")
	discover := flag.Bool("discover", false, "find the server over mDNS")
	device := flag.String("device", "", "device id (required)")
	location := flag.String("location", "room_A", "room label")
	devType := flag.String("type", "projector", "device type")
	heartbeat := flag.Duration("heartbeat", 20*time.Second, "heartbeat interval")
	report := flag.Duration("report", time.Minute, "power report interval; 0 disables")
	watts := flag.Float64("watts", 120, "simulated power draw while on")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *device == "" {
		fmt.Fprintln(os.Stderr, "equipsim: -device is required")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	})).With("device_id", *device)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serverAddr := *addr
	if *discover {
		found, err := discovery.Find(ctx, 0)
		if err != nil || len(found) == 0 {
			fmt.Fprintln(os.Stderr, "equipsim: no server found over mDNS")
			os.Exit(1)
		}
		serverAddr = found[0].Addr()
		logger.Info("server discovered", "addr", serverAddr)
	}

	sim := &simulator{
		addr:           serverAddr,
		deviceID:       *device,
		location:       *location,
		devType:        *devType,
		heartbeatEvery: *heartbeat,
		reportEvery:    *report,
		watts:          *watts,
		logger:         logger,
	}

	mgr := connection.NewManager(sim.session)
	mgr.OnReconnecting(func(attempt int, delay time.Duration) {
		logger.Info("reconnecting", "attempt", attempt, "delay", delay.String())
	})

	if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "equipsim: %v\n", err)
		os.Exit(1)
	}
}

// session runs one connection from dial to loss. A nil return stops
// the reconnect loop; session only returns nil when the context ends.
func (s *simulator) session(ctx context.Context) error {
	conn, err := transport.NewClient(transport.ClientConfig{}).Connect(ctx, s.addr)
	if err != nil {
		s.logger.Warn("connect failed", "addr", s.addr, "err", err)
		return err
	}
	defer conn.Close()

	if err := s.announce(conn); err != nil {
		return err
	}
	s.logger.Info("online", "addr", s.addr)

	// Timers write frames; the main loop below is the only reader.
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runTimers(tctx, conn)
	}()
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}
		body, err := conn.Receive(receivePoll)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("session lost", "err", err)
			return err
		}
		s.handleFrame(conn, body)
	}
}

// announce binds the device identity and waits for the acknowledgment.
func (s *simulator) announce(conn *transport.ClientConn) error {
	body, err := wire.Encode(wire.ClientEquipment, wire.KindEquipmentOnline,
		s.deviceID, s.location, s.devType)
	if err != nil {
		return err
	}
	if err := conn.Send(body); err != nil {
		return err
	}

	replyBody, err := conn.Receive(onlineReplyTimeout)
	if err != nil {
		return fmt.Errorf("no online response: %w", err)
	}
	msg, err := wire.Decode(replyBody)
	if err != nil {
		return fmt.Errorf("bad online response: %w", err)
	}
	if msg.Kind != wire.KindOnlineResponse {
		return fmt.Errorf("unexpected reply kind %s", msg.Kind)
	}
	f := msg.Fields()
	if len(f) == 0 || f[0] != wire.TokenSuccess {
		return fmt.Errorf("online rejected: %s", msg.Rest)
	}
	return nil
}

// runTimers drives heartbeats and power reports until the session
// context ends.
func (s *simulator) runTimers(ctx context.Context, conn *transport.ClientConn) {
	heartbeat := time.NewTicker(s.heartbeatEvery)
	defer heartbeat.Stop()

	var report <-chan time.Time
	if s.reportEvery > 0 {
		ticker := time.NewTicker(s.reportEvery)
		defer ticker.Stop()
		report = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			body, err := wire.Encode(wire.ClientEquipment, wire.KindHeartbeat, s.deviceID)
			if err == nil {
				_ = conn.Send(body)
			}
		case <-report:
			s.sendPowerReport(conn)
		}
	}
}

func (s *simulator) sendPowerReport(conn *transport.ClientConn) {
	s.mu.Lock()
	on := s.powerOn
	s.mu.Unlock()

	draw := 0.0
	if on {
		draw = s.watts
	}
	body, err := wire.Encode(wire.ClientEquipment, wire.KindPowerReport, s.deviceID,
		strconv.FormatFloat(draw, 'f', -1, 64))
	if err == nil {
		_ = conn.Send(body)
	}
}

// handleFrame executes a forwarded control command. Anything else
// (the heartbeat pong included) is ignored.
func (s *simulator) handleFrame(conn *transport.ClientConn, body []byte) {
	if strings.HasPrefix(string(body), string(wire.HeartbeatReply)) {
		return
	}
	msg, err := wire.Decode(body)
	if err != nil || msg.Kind != wire.KindControlCommand || msg.Subject != s.deviceID {
		return
	}
	f := msg.Fields()
	if len(f) == 0 {
		return
	}
	n, err := strconv.Atoi(f[0])
	if err != nil || !wire.CmdKind(n).IsValid() {
		s.respond(conn, "unknown", wire.TokenFail, "bad_command")
		return
	}
	cmd := wire.CmdKind(n)
	s.logger.Info("control command", "cmd", cmd.String())

	s.mu.Lock()
	switch cmd {
	case wire.CmdTurnOn:
		s.powerOn = true
	case wire.CmdTurnOff:
		s.powerOn = false
	case wire.CmdRestart:
		// Power state survives a restart.
	case wire.CmdAdjustSettings:
	}
	power := wire.PowerOff
	if s.powerOn {
		power = wire.PowerOn
	}
	s.mu.Unlock()

	s.respond(conn, cmd.String(), wire.TokenSuccess)

	// Restart reports the transient state before coming back online.
	if cmd == wire.CmdRestart {
		s.sendStatus(conn, wire.StatusRestarting, power)
	}
	s.sendStatus(conn, wire.StatusOnline, power)
}

func (s *simulator) respond(conn *transport.ClientConn, cmdName, result string, extra ...string) {
	fields := append([]string{result, cmdName}, extra...)
	body, err := wire.Encode(wire.ClientEquipment, wire.KindControlResponse, s.deviceID, fields...)
	if err == nil {
		_ = conn.Send(body)
	}
}

func (s *simulator) sendStatus(conn *transport.ClientConn, status wire.Status, power wire.Power) {
	body, err := wire.Encode(wire.ClientEquipment, wire.KindStatusUpdate, s.deviceID,
		string(status), string(power))
	if err == nil {
		_ = conn.Send(body)
	}
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
