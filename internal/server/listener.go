package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/infodancer/pop3d/internal/config"
)

// ConnectionHandler processes one accepted connection end to end.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// ListenerConfig configures one bound endpoint (spec §4.8, §6).
type ListenerConfig struct {
	Address        string
	Mode           config.ListenerMode
	TLSConfig      *tls.Config
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	LogTransaction bool
	Logger         *slog.Logger
	Handler        ConnectionHandler
	Limiter        *ConnectionLimiter
	Drain          *DrainCoordinator
}

// Listener binds one configured endpoint and spawns one session per
// accepted connection (component C8).
type Listener struct {
	cfg ListenerConfig

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

// NewListener creates a Listener; call Start to bind and begin accepting.
func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{cfg: cfg}
}

// Address returns the configured bind address.
func (l *Listener) Address() string { return l.cfg.Address }

// Start binds the endpoint and accepts connections until ctx is cancelled
// or an unrecoverable accept error occurs. Implicit-TLS listeners wrap each
// accepted connection in TLS (via tls.Listen), so the handshake runs on the
// first read or write, before any POP3 byte; other listeners accept in
// cleartext and upgrade per-connection on the STLS command.
func (l *Listener) Start(ctx context.Context) error {
	var ln net.Listener
	var err error

	if l.cfg.Mode == config.ModePop3s {
		if l.cfg.TLSConfig == nil {
			return fmt.Errorf("listener %s: implicit TLS mode requires a TLS configuration", l.cfg.Address)
		}
		ln, err = tls.Listen("tcp", l.cfg.Address, l.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", l.cfg.Address)
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	stopCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-stopCh:
		}
	}()
	defer close(stopCh)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return context.Canceled
			default:
				l.wg.Wait()
				return err
			}
		}

		if l.cfg.Limiter != nil && !l.cfg.Limiter.TryAcquire() {
			go rejectOverload(conn, l.cfg.Logger)
			continue
		}

		l.wg.Add(1)
		go l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	if l.cfg.Limiter != nil {
		defer l.cfg.Limiter.Release()
	}

	c := NewConnection(conn, ConnectionConfig{
		IdleTimeout:    l.cfg.IdleTimeout,
		CommandTimeout: l.cfg.CommandTimeout,
		LogTransaction: l.cfg.LogTransaction,
		Logger:         l.cfg.Logger,
		Drain:          l.cfg.Drain,
	})
	if l.cfg.Drain != nil {
		l.cfg.Drain.Track(c)
		defer l.cfg.Drain.Untrack(c)
	}
	defer c.Close()

	l.cfg.Handler(ctx, c)
}

// Close stops accepting new connections on this listener. Sessions already
// in progress are unaffected; see DrainCoordinator for their shutdown.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.ln != nil {
		return l.ln.Close()
	}
	return nil
}

// rejectOverload implements spec §4.8: accept the connection, write the
// overload response, and close, without constructing a Session.
func rejectOverload(conn net.Conn, logger *slog.Logger) {
	defer conn.Close()
	_, err := conn.Write([]byte("-ERR [SYS/TEMP] too many connections\r\n"))
	if err != nil && logger != nil {
		logger.Debug("failed to write overload response", "error", err.Error())
	}
}
