package pop3

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/infodancer/pop3d/internal/config"
	"github.com/infodancer/pop3d/internal/logging"
	"github.com/infodancer/pop3d/internal/mailadapter"
	"github.com/infodancer/pop3d/internal/metrics"
	"github.com/infodancer/pop3d/internal/server"
)

// HandlerConfig groups everything a POP3 connection handler needs beyond
// the per-connection state the server package already supplies.
type HandlerConfig struct {
	Hostname                     string
	Adapter                      mailadapter.Adapter
	TLSConfig                    *tls.Config
	Collector                    metrics.Collector
	Locks                        *LockRegistry
	Throttle                     *AuthThrottle
	AllowReadOnlyMode            bool
	AllowPlaintextAuthWithoutTLS bool
}

// Handler creates a POP3 protocol handler with the given configuration
// (spec components C2-C11 wired into one connection loop).
func Handler(cfg HandlerConfig) server.ConnectionHandler {
	deps := AuthDeps{Locks: cfg.Locks, Throttle: cfg.Throttle}
	RegisterAuthCommands(deps)
	RegisterTransactionCommands()

	return func(ctx context.Context, conn *server.Connection) {
		handleConnection(ctx, conn, cfg)
	}
}

// handleConnection manages a single POP3 connection end to end, one
// goroutine per connection (spec §5).
func handleConnection(ctx context.Context, conn *server.Connection, cfg HandlerConfig) {
	logger := logging.FromContext(ctx)

	cfg.Collector.ConnectionOpened()
	defer cfg.Collector.ConnectionClosed()

	listenerMode := config.ModeNone
	if conn.IsTLS() {
		listenerMode = config.ModePop3s
		cfg.Collector.TLSConnectionEstablished()
	} else if cfg.TLSConfig != nil {
		listenerMode = config.ModeSTLS
	}

	sess := NewSession(SessionConfig{
		Hostname:          cfg.Hostname,
		Mode:              listenerMode,
		TLSConfig:         cfg.TLSConfig,
		IsTLS:             conn.IsTLS(),
		RemoteAddr:        remoteIP(conn),
		Adapter:           cfg.Adapter,
		AllowReadOnlyMode: cfg.AllowReadOnlyMode,
		AllowPlaintext:    cfg.AllowPlaintextAuthWithoutTLS,
	})
	defer sess.Cleanup(context.Background())

	logger.Info("starting POP3 session",
		"state", sess.State().String(),
		"tls_state", sess.TLSState().String(),
	)

	greeting := fmt.Sprintf("+OK %s POP3 server ready %s\r\n", cfg.Hostname, sess.APOPTimestamp())
	if _, err := conn.Writer().WriteString(greeting); err != nil {
		logger.Error("failed to send greeting", "error", err.Error())
		return
	}
	if err := conn.Flush(); err != nil {
		logger.Error("failed to flush greeting", "error", err.Error())
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, closing connection")
			return
		default:
		}

		if conn.IsClosed() {
			logger.Info("connection closed")
			return
		}

		// Graceful shutdown: refuse new commands at the next boundary
		// instead of committing a fresh UPDATE transition (spec §4.9).
		if conn.Draining() {
			sendError(conn, logger, "[SYS/TEMP] server is shutting down")
			return
		}

		if err := conn.SetCommandTimeout(); err != nil {
			logger.Error("failed to set command timeout", "error", err.Error())
			return
		}

		line, err := ReadCommandLine(conn.Reader())
		if err != nil {
			if errors.Is(err, ErrLineTooLong) {
				sendError(conn, logger, "line too long")
				return
			}
			if err == io.EOF {
				logger.Info("client closed connection")
				return
			}
			logger.Error("error reading command", "error", err.Error())
			return
		}

		if err := conn.ResetIdleTimeout(); err != nil {
			logger.Error("failed to reset idle timeout", "error", err.Error())
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		logger.Debug("received command", "line", line)

		if sess.IsSASLInProgress() {
			handleSASLContinuation(ctx, conn, sess, cfg, line, logger)
			continue
		}

		cmdName, args, err := ParseCommand(line)
		if err != nil {
			sendError(conn, logger, "Invalid command")
			continue
		}

		cmd, ok := GetCommand(cmdName)
		if !ok {
			sendError(conn, logger, "Unknown command")
			continue
		}

		if !sess.UTF8Enabled() && !argsASCIIOnly(args) {
			resp := RenderWireError(NewWireError(KindProtocolSyntax, "non-ASCII argument before UTF8"))
			if _, werr := conn.Writer().WriteString(resp.String()); werr != nil {
				return
			}
			_ = conn.Flush()
			continue
		}

		if err := checkVerb(cmdName, sess.State(), args); err != nil {
			resp := RenderWireError(NewWireError(KindWrongState, err.Error()))
			if _, werr := conn.Writer().WriteString(resp.String()); werr != nil {
				return
			}
			_ = conn.Flush()
			continue
		}

		logger.Debug("executing command", "command", cmdName, "args_count", len(args))
		cfg.Collector.CommandProcessed(cmdName)

		resp, err := cmd.Execute(ctx, sess, conn, args)
		if err != nil {
			logger.Error("command execution error", "command", cmdName, "error", err.Error())
			sendError(conn, logger, "Internal server error")
			continue
		}

		if _, err := conn.Writer().WriteString(resp.String()); err != nil {
			logger.Error("failed to send response", "error", err.Error())
			return
		}
		if err := conn.Flush(); err != nil {
			logger.Error("failed to flush response", "error", err.Error())
			return
		}

		logger.Debug("sent response", "ok", resp.OK, "message", resp.Message)

		if cmdName == "PASS" || cmdName == "APOP" || cmdName == "AUTH" {
			if cmdName != "AUTH" || (resp.OK || !resp.Continuation) {
				cfg.Collector.AuthAttempt(extractDomain(sess.Username()), resp.OK)
			}
		}

		switch cmdName {
		case "STLS":
			if resp.OK {
				if err := upgradeToTLS(ctx, conn, sess); err != nil {
					logger.Error("TLS upgrade failed", "error", err.Error())
					return
				}
				cfg.Collector.TLSConnectionEstablished()
				logger.Info("TLS upgrade successful", "tls_state", sess.TLSState().String())
			}

		case "QUIT":
			logger.Info("QUIT command received, closing connection")
			return
		}
	}
}

func handleSASLContinuation(ctx context.Context, conn *server.Connection, sess *Session, cfg HandlerConfig, line string, logger interface{ Error(string, ...any) }) {
	authCmd, ok := GetCommand("AUTH")
	if !ok {
		sess.ClearSASL()
		sendError(conn, logger, "Internal server error")
		return
	}
	a, ok := authCmd.(*authCommand)
	if !ok {
		sess.ClearSASL()
		sendError(conn, logger, "Internal server error")
		return
	}

	resp, err := a.ProcessSASLResponse(ctx, sess, conn, line)
	if err != nil {
		logger.Error("SASL processing error", "error", err.Error())
		sess.ClearSASL()
		sendError(conn, logger, "Internal server error")
		return
	}

	if _, err := conn.Writer().WriteString(resp.String()); err != nil {
		return
	}
	_ = conn.Flush()

	if resp.OK || !resp.Continuation {
		cfg.Collector.AuthAttempt(extractDomain(sess.Username()), resp.OK)
		cfg.Collector.CommandProcessed("AUTH")
	}
}

// upgradeToTLS performs the TLS upgrade after STLS command.
func upgradeToTLS(ctx context.Context, conn *server.Connection, sess *Session) error {
	logger := logging.FromContext(ctx)

	tlsConfig := sess.TLSConfig()
	if tlsConfig == nil {
		return fmt.Errorf("no TLS configuration available")
	}

	logger.Info("upgrading connection to TLS")

	if err := conn.UpgradeToTLS(tlsConfig); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}

	sess.SetTLSActive()
	return nil
}

// sendError sends an error response to the client.
func sendError(conn *server.Connection, logger interface{}, message string) {
	resp := Response{OK: false, Message: message}
	if _, err := conn.Writer().WriteString(resp.String()); err != nil {
		return
	}
	_ = conn.Flush()
}

// extractDomain extracts the domain part from a username, for metrics
// labeling. Returns "unknown" for bare usernames.
func extractDomain(username string) string {
	if idx := strings.LastIndex(username, "@"); idx >= 0 {
		return username[idx+1:]
	}
	return "unknown"
}

// remoteIP extracts the host portion of a connection's remote address, used
// as the auth throttle key (spec component C5).
func remoteIP(conn *server.Connection) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	s := addr.String()
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		return s[:idx]
	}
	return s
}
