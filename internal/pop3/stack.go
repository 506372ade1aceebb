package pop3

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/infodancer/auth"
	"github.com/infodancer/msgstore"

	"github.com/infodancer/pop3d/internal/config"
	"github.com/infodancer/pop3d/internal/mailadapter"
	"github.com/infodancer/pop3d/internal/mailadapter/infodancer"
	"github.com/infodancer/pop3d/internal/metrics"
	"github.com/infodancer/pop3d/internal/server"
)

// StackConfig groups the configuration needed to build a Stack.
// TLSConfig is caller-supplied; tests may omit it (nil = plain POP3 only).
type StackConfig struct {
	Config     config.Config
	ConfigPath string // absolute path to config file
	TLSConfig  *tls.Config

	// Adapter overrides the config-selected mailadapter.Adapter; set by
	// tests and embedders that supply their own authentication/mailbox
	// backend instead of "infodancer" or "passwdfile".
	Adapter mailadapter.Adapter

	Collector metrics.Collector // nil → NoopCollector
	Logger    *slog.Logger      // nil → slog.Default()
}

// Stack owns all components of a running pop3d instance and manages their lifecycle.
type Stack struct {
	server  *server.Server
	closers []io.Closer
	logger  *slog.Logger
}

// NewStack creates a Stack from the given configuration, wiring up all
// components: adapter (C3), lock registry (C4), auth throttle (C5), and
// the server/listener layer (C7-C9).
func NewStack(cfg StackConfig) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	s := &Stack{logger: logger}

	adapter := cfg.Adapter
	if adapter == nil {
		built, err := s.buildAdapter(cfg.Config, logger)
		if err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		adapter = built
	}

	curve, err := cfg.Config.ParsedAuthDelayCurve()
	if err != nil {
		return nil, err
	}

	locks := NewLockRegistry()
	throttle := NewAuthThrottle(curve)

	srv, err := server.New(server.Config{
		Cfg:       &cfg.Config,
		TLSConfig: cfg.TLSConfig,
		Logger:    logger,
	})
	if err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}

	handler := Handler(HandlerConfig{
		Hostname:                     cfg.Config.Hostname,
		Adapter:                      adapter,
		TLSConfig:                    cfg.TLSConfig,
		Collector:                    collector,
		Locks:                        locks,
		Throttle:                     throttle,
		AllowReadOnlyMode:            cfg.Config.AllowReadOnlyMode,
		AllowPlaintextAuthWithoutTLS: cfg.Config.AllowPlaintextAuthWithoutTLS,
	})
	srv.SetHandler(handler)

	s.server = srv
	return s, nil
}

// buildAdapter selects and constructs the mailadapter.Adapter named by
// cfg.Auth.Type (spec §6, component C11/C3).
func (s *Stack) buildAdapter(cfg config.Config, logger *slog.Logger) (mailadapter.Adapter, error) {
	switch cfg.Auth.Type {
	case "passwdfile":
		path := cfg.Auth.Options["passwd_file"]
		if path == "" {
			return nil, fmt.Errorf("auth type passwdfile requires auth.options.passwd_file")
		}
		a, err := infodancer.LoadPasswdFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading passwd file: %w", err)
		}
		logger.Info("authentication enabled", "type", "passwdfile")
		return a, nil

	case "infodancer", "":
		agentConfig := auth.AuthAgentConfig{
			Type:              cfg.Auth.Type,
			CredentialBackend: cfg.Auth.CredentialBackend,
			KeyBackend:        cfg.Auth.KeyBackend,
			Options:           cfg.Auth.Options,
		}
		authAgent, err := auth.OpenAuthAgent(agentConfig)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, authAgent)

		var store msgstore.MessageStore
		if cfg.Maildir != "" {
			opened, err := msgstore.Open(msgstore.StoreConfig{
				Type:     "maildir",
				BasePath: cfg.Maildir,
			})
			if err != nil {
				return nil, err
			}
			store = opened
			if c, ok := opened.(io.Closer); ok {
				s.closers = append(s.closers, c)
			}
		}

		logger.Info("authentication enabled", "type", "infodancer", "maildir", cfg.Maildir)
		return infodancer.New(authAgent, store), nil

	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}
}

// Run starts the server and blocks until the context is cancelled.
func (s *Stack) Run(ctx context.Context) error {
	return s.server.Run(ctx)
}

// Shutdown begins graceful shutdown with the given force-close deadline
// (component C9).
func (s *Stack) Shutdown(deadline time.Duration) {
	s.server.Shutdown(deadline)
}

// Close shuts down all closeable components in reverse registration order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunSingleConn processes exactly one POP3 session on the given connection,
// useful for tests that want a single deterministic session without a
// listener. For implicit-TLS mode the connection is upgraded before the
// session starts.
func (s *Stack) RunSingleConn(conn net.Conn, mode config.ListenerMode, tlsConfig *tls.Config) error {
	cfg := s.server.Config()
	connCfg := server.ConnectionConfig{
		IdleTimeout:    cfg.Timeouts.ConnectionTimeout(),
		CommandTimeout: cfg.Timeouts.CommandTimeout(),
		LogTransaction: cfg.LogLevel == "debug",
		Logger:         s.logger,
	}
	c := server.NewConnection(conn, connCfg)
	if mode == config.ModePop3s {
		if tlsConfig == nil {
			return fmt.Errorf("implicit TLS mode requires TLS configuration")
		}
		if err := c.UpgradeToTLS(tlsConfig); err != nil {
			return fmt.Errorf("TLS upgrade: %w", err)
		}
	}
	ctx := context.Background()
	handler := s.server.Handler()
	if handler == nil {
		return fmt.Errorf("no handler configured on server")
	}
	handler(ctx, c)
	return nil
}
