package pop3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/infodancer/pop3d/internal/mailadapter"
)

// AuthDeps bundles the shared dependencies authentication commands need:
// the lock registry (component C4) and the per-IP throttle (component C5).
type AuthDeps struct {
	Locks    *LockRegistry
	Throttle *AuthThrottle
}

// openMailboxForAuth is shared by USER/PASS and APOP once credentials check
// out (the AUTH PLAIN callback runs the same sequence inline): it decides
// exclusive-vs-read-only from the XPRO request on the session and opens the
// snapshot.
func openMailboxForAuth(ctx context.Context, deps AuthDeps, sess *Session, identity mailadapter.Identity) (Response, error) {
	sess.SetAuthenticated(identity)
	if err := sess.OpenMailbox(ctx, deps.Locks, sess.pendingReadOnly); err != nil {
		if errors.Is(err, ErrLockBusy) {
			return RenderWireError(NewWireError(KindLockBusy, "mailbox in use")), nil
		}
		if errors.Is(err, mailadapter.ErrTransient) {
			return RenderWireError(NewWireError(KindAdapterTransient, "mailbox temporarily unavailable")), nil
		}
		return RenderWireError(NewWireError(KindAdapterPermanent, "mailbox unavailable")), nil
	}
	return Response{OK: true, Message: fmt.Sprintf("Logged in as %s", identity.Username)}, nil
}

// capaCommand implements the CAPA command (RFC 2449, component C10).
type capaCommand struct{}

func (c *capaCommand) Name() string { return "CAPA" }

func (c *capaCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if len(args) > 0 {
		return Response{OK: false, Message: "CAPA command takes no arguments"}, nil
	}
	return Response{OK: true, Message: "Capability list follows", Lines: sess.Capabilities(), Multiline: true}, nil
}

// stlsCommand implements the STLS command (RFC 2595).
type stlsCommand struct{}

func (s *stlsCommand) Name() string { return "STLS" }

func (s *stlsCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if len(args) > 0 {
		return Response{OK: false, Message: "STLS command takes no arguments"}, nil
	}
	if sess.State() != StateAuthorization {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if !sess.CanSTLS() {
		if sess.IsTLSActive() {
			return Response{OK: false, Message: "Already using TLS"}, nil
		}
		return Response{OK: false, Message: "TLS not available"}, nil
	}
	return Response{OK: true, Message: "Begin TLS negotiation"}, nil
}

// utf8Command implements the UTF8 command (RFC 6856).
type utf8Command struct{}

func (u *utf8Command) Name() string { return "UTF8" }

func (u *utf8Command) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if len(args) > 0 {
		return Response{OK: false, Message: "UTF8 command takes no arguments"}, nil
	}
	if sess.State() != StateAuthorization {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	sess.SetUTF8()
	return Response{OK: true, Message: "UTF8 enabled"}, nil
}

// xproCommand implements XPRO, the engine's extension requesting a
// concurrent, read-only open of the mailbox instead of the usual exclusive
// lock (spec component C4, the X-POP3SF-READ-ONLY capability). Must be
// issued in AUTHORIZATION before the PASS/AUTH/APOP that completes login.
type xproCommand struct{}

func (x *xproCommand) Name() string { return "XPRO" }

func (x *xproCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if len(args) != 1 || !strings.EqualFold(args[0], "READ-ONLY") {
		return Response{OK: false, Message: "XPRO command requires the READ-ONLY argument"}, nil
	}
	if sess.State() != StateAuthorization {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if !sess.allowReadOnlyMode {
		return RenderWireError(NewWireError(KindReadOnlyRefusal, "read-only mode not offered")), nil
	}
	sess.pendingReadOnly = true
	return Response{OK: true, Message: "subsequent login will open the mailbox read-only"}, nil
}

// userCommand implements the USER command (RFC 1939).
type userCommand struct{}

func (u *userCommand) Name() string { return "USER" }

func (u *userCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthorization {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if sess.RequiresTLSForAuth() {
		return RenderWireError(NewWireError(KindAuthFail, "TLS required for authentication")), nil
	}
	if len(args) != 1 || args[0] == "" {
		return Response{OK: false, Message: "USER command requires username argument"}, nil
	}

	sess.SetUsername(args[0])
	return Response{OK: true, Message: fmt.Sprintf("User %s accepted", args[0])}, nil
}

// passCommand implements the PASS command (RFC 1939).
type passCommand struct {
	deps AuthDeps
}

func (p *passCommand) Name() string { return "PASS" }

func (p *passCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthorization {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if sess.RequiresTLSForAuth() {
		return RenderWireError(NewWireError(KindAuthFail, "TLS required for authentication")), nil
	}

	username := sess.Username()
	if username == "" {
		return Response{OK: false, Message: "No username specified"}, nil
	}
	if len(args) != 1 {
		return Response{OK: false, Message: "PASS command requires password argument"}, nil
	}
	password := args[0]

	if err := p.deps.Throttle.Wait(ctx, sess.RemoteAddr()); err != nil {
		return Response{}, err
	}

	identity, err := sess.Adapter().Authenticate(ctx, username, password)
	if err != nil {
		p.deps.Throttle.RecordFailure(sess.RemoteAddr())
		conn.Logger().Info("authentication failed", "username", username)
		return RenderWireError(NewWireError(KindAuthFail, "authentication failed")), nil
	}
	p.deps.Throttle.RecordSuccess(sess.RemoteAddr())

	resp, err := openMailboxForAuth(ctx, p.deps, sess, identity)
	if err == nil {
		conn.Logger().Info("authentication successful", "username", username)
	}
	return resp, err
}

// apopCommand implements APOP (RFC 1939 §7): shared-secret digest
// authentication that never sends the password on the wire. Refused
// outright when the adapter cannot expose the shared secret (spec §9(c)).
type apopCommand struct {
	deps AuthDeps
}

func (a *apopCommand) Name() string { return "APOP" }

func (a *apopCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthorization {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if len(args) != 2 {
		return Response{OK: false, Message: "APOP command requires name and digest arguments"}, nil
	}
	if sess.Adapter() == nil || !sess.Adapter().SupportsAPOP() {
		return RenderWireError(NewWireError(KindAuthFail, "APOP not supported")), nil
	}

	username, digest := args[0], args[1]

	if err := a.deps.Throttle.Wait(ctx, sess.RemoteAddr()); err != nil {
		return Response{}, err
	}

	identity, err := sess.Adapter().AuthenticateAPOP(ctx, username, sess.APOPTimestamp(), digest)
	if err != nil {
		a.deps.Throttle.RecordFailure(sess.RemoteAddr())
		conn.Logger().Info("APOP authentication failed", "username", username)
		return RenderWireError(NewWireError(KindAuthFail, "authentication failed")), nil
	}
	a.deps.Throttle.RecordSuccess(sess.RemoteAddr())

	return openMailboxForAuth(ctx, a.deps, sess, identity)
}

// quitCommand implements the QUIT command (RFC 1939).
type quitCommand struct{}

func (q *quitCommand) Name() string { return "QUIT" }

func (q *quitCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if len(args) > 0 {
		return Response{OK: false, Message: "QUIT command takes no arguments"}, nil
	}

	message := "Goodbye"
	if sess.State() == StateTransaction {
		if err := sess.Commit(ctx); err != nil {
			conn.Logger().Error("commit failed", "error", err.Error())
			return RenderWireError(NewWireError(KindAdapterTransient, "failed to remove deleted messages")), nil
		}
		sess.EnterUpdate()
		message = "Logging out"
	}

	return Response{OK: true, Message: message}, nil
}

// authCommand implements the AUTH command (RFC 5034).
type authCommand struct {
	deps AuthDeps
}

func (a *authCommand) Name() string { return "AUTH" }

func (a *authCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthorization {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if sess.RequiresTLSForAuth() {
		return RenderWireError(NewWireError(KindAuthFail, "TLS required for authentication")), nil
	}
	if len(args) < 1 {
		return Response{OK: false, Message: "AUTH command requires mechanism argument"}, nil
	}

	mechanism := strings.ToUpper(args[0])
	if !mechSupported(sess, mechanism) {
		return Response{OK: false, Message: fmt.Sprintf("Unsupported mechanism: %s", mechanism)}, nil
	}

	var server sasl.Server
	switch mechanism {
	case sasl.Plain:
		server = sasl.NewPlainServer(func(identity, username, password string) error {
			if err := a.deps.Throttle.Wait(ctx, sess.RemoteAddr()); err != nil {
				return err
			}
			ident, err := sess.Adapter().Authenticate(ctx, username, password)
			if err != nil {
				a.deps.Throttle.RecordFailure(sess.RemoteAddr())
				conn.Logger().Info("SASL authentication failed", "mechanism", mechanism, "username", username)
				return err
			}
			a.deps.Throttle.RecordSuccess(sess.RemoteAddr())
			sess.SetUsername(username)
			sess.SetAuthenticated(ident)
			return sess.OpenMailbox(ctx, a.deps.Locks, sess.pendingReadOnly)
		})
	default:
		return Response{OK: false, Message: fmt.Sprintf("Unsupported mechanism: %s", mechanism)}, nil
	}

	sess.SetSASLServer(mechanism, server)

	var initialResponse []byte
	if len(args) > 1 {
		if args[1] == "=" {
			initialResponse = []byte{}
		} else {
			var err error
			initialResponse, err = DecodeSASLResponse(args[1])
			if err != nil {
				sess.ClearSASL()
				return Response{OK: false, Message: "Invalid base64 encoding"}, nil
			}
		}
		return a.processSASLStep(ctx, sess, conn, initialResponse)
	}

	return Response{Continuation: true, Challenge: ""}, nil
}

func mechSupported(sess *Session, mechanism string) bool {
	for _, mech := range SupportedSASLMechanisms(sess) {
		if strings.EqualFold(mech, mechanism) {
			return true
		}
	}
	return false
}

// processSASLStep processes a SASL response and returns the next challenge or completion.
func (a *authCommand) processSASLStep(ctx context.Context, sess *Session, conn ConnectionLogger, response []byte) (Response, error) {
	server := sess.SASLServer()
	if server == nil {
		return Response{OK: false, Message: "No SASL exchange in progress"}, nil
	}

	challenge, done, err := server.Next(response)
	if err != nil {
		sess.ClearSASL()
		return RenderWireError(NewWireError(KindAuthFail, "authentication failed")), nil
	}

	if done {
		sess.ClearSASL()
		if !sess.IsAuthenticated() {
			return RenderWireError(NewWireError(KindAuthFail, "authentication failed")), nil
		}
		return Response{OK: true, Message: fmt.Sprintf("Logged in as %s", sess.Username())}, nil
	}

	return Response{Continuation: true, Challenge: EncodeSASLChallenge(challenge)}, nil
}

// ProcessSASLResponse processes a SASL response from the handler. Called
// when the handler receives a line during an active SASL exchange.
func (a *authCommand) ProcessSASLResponse(ctx context.Context, sess *Session, conn ConnectionLogger, line string) (Response, error) {
	if line == "*" {
		sess.ClearSASL()
		return Response{OK: false, Message: "Authentication cancelled"}, nil
	}

	response, err := DecodeSASLResponse(line)
	if err != nil {
		sess.ClearSASL()
		return Response{OK: false, Message: "Invalid base64 encoding"}, nil
	}

	return a.processSASLStep(ctx, sess, conn, response)
}

// RegisterAuthCommands registers all authentication-related commands.
func RegisterAuthCommands(deps AuthDeps) {
	RegisterCommand(&capaCommand{})
	RegisterCommand(&stlsCommand{})
	RegisterCommand(&utf8Command{})
	RegisterCommand(&xproCommand{})
	RegisterCommand(&userCommand{})
	RegisterCommand(&passCommand{deps: deps})
	RegisterCommand(&apopCommand{deps: deps})
	RegisterCommand(&authCommand{deps: deps})
	RegisterCommand(&quitCommand{})
}
