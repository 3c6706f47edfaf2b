package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/campuseq/campuseq-go/pkg/log"
)

// ClientConfig configures a transport client (simulator or console).
type ClientConfig struct {
	// ConnectTimeout is the dial timeout (default: 30s).
	ConnectTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Client dials the equipment server.
type Client struct {
	config ClientConfig
}

// NewClient creates a client with the given configuration.
func NewClient(config ClientConfig) *Client {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	return &Client{config: config}
}

// Connect establishes a connection to the given address.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	cc := &ClientConn{
		conn:    conn,
		framer:  NewFramer(conn),
		closeCh: make(chan struct{}),
	}
	if c.config.Logger != nil {
		cc.framer.SetLogger(c.config.Logger, conn.LocalAddr().String())
	}
	return cc, nil
}

// ClientConn is one client-to-server connection.
type ClientConn struct {
	conn    net.Conn
	framer  *Framer
	closeCh chan struct{}

	closeOnce sync.Once
	readMu    sync.Mutex
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one frame to the server.
func (c *ClientConn) Send(body []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(body)
}

// Receive reads one frame body. A timeout of zero blocks until a
// frame arrives or the connection fails.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return c.framer.ReadFrame()
}

// Close closes the connection. Safe to call more than once.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// SetLogger configures protocol logging for this connection.
func (c *ClientConn) SetLogger(logger log.Logger, connID string) {
	c.framer.SetLogger(logger, connID)
}
