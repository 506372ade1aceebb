package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// tlsHandshakeTimeout bounds the STLS/implicit-TLS handshake itself,
// independent of the session's idle/command timeouts.
const tlsHandshakeTimeout = 30 * time.Second

// Connection wraps one accepted net.Conn with the buffered I/O, deadlines,
// and TLS-upgrade machinery the POP3 engine needs (spec §4.1, §4.7).
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	logger *slog.Logger

	idleTimeout    time.Duration
	commandTimeout time.Duration

	drain *DrainCoordinator

	isTLS  atomic.Bool
	closed atomic.Bool
}

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	LogTransaction bool
	Logger         *slog.Logger
	Drain          *DrainCoordinator
}

// NewConnection wraps conn for use by the POP3 engine.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	c := &Connection{
		conn:           conn,
		reader:         bufio.NewReader(conn),
		writer:         bufio.NewWriter(conn),
		logger:         cfg.Logger,
		idleTimeout:    cfg.IdleTimeout,
		commandTimeout: cfg.CommandTimeout,
		drain:          cfg.Drain,
	}
	if logger := c.logger; logger == nil {
		c.logger = slog.Default()
	}
	if _, ok := conn.(*tls.Conn); ok {
		c.isTLS.Store(true)
	}
	return c
}

// Reader returns the buffered reader. Its identity changes after a
// successful UpgradeToTLS.
func (c *Connection) Reader() *bufio.Reader { return c.reader }

// Writer returns the buffered writer. Its identity changes after a
// successful UpgradeToTLS.
func (c *Connection) Writer() *bufio.Writer { return c.writer }

// Flush flushes any buffered response bytes to the socket.
func (c *Connection) Flush() error { return c.writer.Flush() }

// IsTLS reports whether the connection is currently protected by TLS.
func (c *Connection) IsTLS() bool { return c.isTLS.Load() }

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// Logger returns the connection's logger (pop3.ConnectionLogger).
func (c *Connection) Logger() *slog.Logger { return c.logger }

// RemoteAddr returns the remote address of the underlying socket.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Draining reports whether the server is in graceful shutdown (spec §4.9).
// Sessions must check this at each command boundary.
func (c *Connection) Draining() bool {
	return c.drain != nil && c.drain.Draining()
}

// SetCommandTimeout arms the read deadline for the next command line.
func (c *Connection) SetCommandTimeout() error {
	if c.commandTimeout <= 0 {
		return nil
	}
	return c.conn.SetReadDeadline(time.Now().Add(c.commandTimeout))
}

// ResetIdleTimeout re-arms the read deadline to the longer idle timeout
// after a command line has been fully received (spec §5 idle timer).
func (c *Connection) ResetIdleTimeout() error {
	if c.idleTimeout <= 0 {
		return nil
	}
	return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// Close closes the underlying socket. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return c.conn.Close()
	}
	return nil
}

// UpgradeToTLS performs the server-side TLS handshake in place, discarding
// any buffered plaintext and rebuilding the reader/writer around the new
// tls.Conn (RFC 2595 discipline: no pipelined bytes survive STLS).
func (c *Connection) UpgradeToTLS(cfg *tls.Config) error {
	if c.IsTLS() {
		return ErrAlreadyTLS
	}

	tlsConn := tls.Server(c.conn, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), tlsHandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}

	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	c.isTLS.Store(true)
	return nil
}
