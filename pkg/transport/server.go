package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/campuseq/campuseq-go/pkg/log"
)

// DefaultPort is the default listen port for the equipment service.
const DefaultPort = 9000

// readChunkSize is the scratch buffer size for socket reads.
const readChunkSize = 8192

// ServerConfig configures an equipment transport server.
type ServerConfig struct {
	// Address to listen on (e.g. ":9000"). Defaults to DefaultPort.
	Address string

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called after a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for each complete frame body, in arrival
	// order per connection.
	OnMessage func(conn *ServerConn, body []byte)

	// OnError is called when a connection fails. A protocol error
	// (oversized frame, buffer overflow) closes the connection before
	// OnError runs.
	OnError func(conn *ServerConn, err error)
}

// Server is the TCP listener that multiplexes equipment and operator
// connections on one port. Each accepted connection gets a goroutine
// that reassembles frames through a StreamBuffer and hands bodies to
// OnMessage.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server with the given configuration.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}
}

// Start binds the listen socket and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes all connections, then the listen socket, and waits for
// connection goroutines to finish.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	// Accept socket is closed last.
	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts incoming connections until the listener closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs the life cycle of one accepted connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()

	writer := NewFrameWriter(conn)
	if s.config.Logger != nil {
		writer.SetLogger(s.config.Logger, connID)
	}

	sconn := &ServerConn{
		conn:       conn,
		writer:     writer,
		buf:        NewStreamBuffer(),
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		connID:     connID,
	}

	s.logConnState(sconn, "", "CONNECTED", "")

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()
	sconn.Close()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	s.logConnState(sconn, "CONNECTED", "DISCONNECTED", sconn.closeReason())

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// logConnState records a connection state change event.
func (s *Server) logConnState(c *ServerConn, oldState, newState, reason string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// ServerConn is one accepted client connection.
type ServerConn struct {
	conn       net.Conn
	writer     *FrameWriter
	buf        *StreamBuffer
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	connID     string

	reasonMu sync.Mutex
	reason   string
}

// RemoteAddr returns the peer address.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Send writes one frame to the peer.
func (c *ServerConn) Send(body []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.writer.WriteFrame(body)
}

// Close closes the connection. Safe to call more than once.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// CloseWithReason records a reason (for the disconnect log event) and
// closes the connection.
func (c *ServerConn) CloseWithReason(reason string) error {
	c.reasonMu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.reasonMu.Unlock()
	return c.Close()
}

func (c *ServerConn) closeReason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// readLoop reads socket chunks, reassembles frames and dispatches
// bodies until the connection ends.
func (c *ServerConn) readLoop() {
	scratch := make([]byte, readChunkSize)

	for {
		select {
		case <-c.closeCh:
			return
		case <-c.server.ctx.Done():
			return
		default:
		}

		n, err := c.conn.Read(scratch)
		if n > 0 {
			if aerr := c.buf.Append(scratch[:n]); aerr != nil {
				c.protocolError(aerr)
				return
			}
			bodies, xerr := c.buf.Extract()
			for _, body := range bodies {
				if c.server.config.Logger != nil {
					event := frameEvent(c.connID, body, log.DirectionIn)
					event.RemoteAddr = c.remoteAddr.String()
					c.server.config.Logger.Log(event)
				}
				if c.server.config.OnMessage != nil {
					c.server.config.OnMessage(c, body)
				}
			}
			if xerr != nil {
				c.protocolError(xerr)
				return
			}
		}
		if err != nil {
			// Peer close or read error; the standard close path runs
			// in handleConnection.
			select {
			case <-c.closeCh:
			default:
				if c.server.config.OnError != nil && c.server.running.Load() {
					c.server.config.OnError(c, err)
				}
			}
			return
		}
	}
}

// protocolError closes the connection in response to a framing
// violation and reports it.
func (c *ServerConn) protocolError(err error) {
	c.CloseWithReason("protocol error")
	if c.server.config.OnError != nil && c.server.running.Load() {
		c.server.config.OnError(c, err)
	}
}
