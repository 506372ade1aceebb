package pop3

import (
	"context"
	"crypto/tls"

	"github.com/emersion/go-sasl"

	"github.com/infodancer/pop3d/internal/config"
	"github.com/infodancer/pop3d/internal/mailadapter"
)

// State represents the current state in the POP3 state machine.
type State int

const (
	// StateAuthorization is the initial state where authentication is required.
	StateAuthorization State = iota

	// StateTransaction is the state after successful authentication.
	StateTransaction

	// StateUpdate is the state after QUIT from Transaction (for committing changes).
	StateUpdate
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateTransaction:
		return "TRANSACTION"
	case StateUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// TLSState represents the current TLS encryption state of the connection.
type TLSState int

const (
	// TLSStateNone indicates no TLS protection.
	TLSStateNone TLSState = iota

	// TLSStateActive indicates TLS is active (after STLS or implicit TLS).
	TLSStateActive
)

// String returns the string representation of the TLS state.
func (ts TLSState) String() string {
	switch ts {
	case TLSStateNone:
		return "NONE"
	case TLSStateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Session represents a POP3 session with state tracking (spec §3, §4).
type Session struct {
	// State machine
	state    State
	tlsState TLSState

	// Configuration
	hostname     string
	listenerMode config.ListenerMode
	tlsConfig    *tls.Config
	remoteAddr   string

	allowReadOnlyMode bool
	allowPlaintext    bool

	// Authentication state
	username      string
	apopTimestamp string // banner challenge offered this connection, for APOP
	identity      mailadapter.Identity

	// SASL state (for multi-step authentication exchanges)
	saslServer sasl.Server
	saslMech   string

	// UTF8 extension (RFC 6856): once negotiated, arguments are UTF-8 text.
	utf8 bool

	// pendingReadOnly records an XPRO READ-ONLY request made before the
	// credential exchange that will open the mailbox.
	pendingReadOnly bool

	// Transaction state (mailbox data)
	adapter     mailadapter.Adapter
	mailbox     mailadapter.Mailbox
	lockHandle  *Handle
	readOnly    bool
	messageList []mailadapter.MessageRef
	deletedSet  map[int]bool
}

// SessionConfig groups the dependencies a session needs beyond its
// connection-level TLS/listener state.
type SessionConfig struct {
	Hostname          string
	Mode              config.ListenerMode
	TLSConfig         *tls.Config
	IsTLS             bool
	RemoteAddr        string
	Adapter           mailadapter.Adapter
	AllowReadOnlyMode bool
	AllowPlaintext    bool
}

// NewSession creates a new POP3 session.
func NewSession(cfg SessionConfig) *Session {
	tlsState := TLSStateNone
	if cfg.Mode == config.ModePop3s || cfg.IsTLS {
		tlsState = TLSStateActive
	}

	return &Session{
		state:             StateAuthorization,
		tlsState:          tlsState,
		hostname:          cfg.Hostname,
		listenerMode:      cfg.Mode,
		tlsConfig:         cfg.TLSConfig,
		remoteAddr:        cfg.RemoteAddr,
		adapter:           cfg.Adapter,
		allowReadOnlyMode: cfg.AllowReadOnlyMode,
		allowPlaintext:    cfg.AllowPlaintext,
		apopTimestamp:     apopBanner(cfg.Hostname),
	}
}

// State returns the current POP3 state.
func (s *Session) State() State {
	return s.state
}

// TLSState returns the current TLS state.
func (s *Session) TLSState() TLSState {
	return s.tlsState
}

// SetTLSActive marks the connection as using TLS.
// Should be called after successful STLS upgrade.
func (s *Session) SetTLSActive() {
	s.tlsState = TLSStateActive
}

// IsTLSActive returns true if TLS is currently active.
func (s *Session) IsTLSActive() bool {
	return s.tlsState == TLSStateActive
}

// CanSTLS returns true if STLS command is available: only in AUTHORIZATION,
// on a listener configured for in-band upgrade, before TLS is active.
func (s *Session) CanSTLS() bool {
	return s.state == StateAuthorization &&
		s.listenerMode == config.ModeSTLS &&
		s.tlsState == TLSStateNone &&
		s.tlsConfig != nil
}

// TLSConfig returns the TLS configuration for STLS.
func (s *Session) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// RemoteAddr returns the remote IP used as the auth throttle key.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// RequiresTLSForAuth reports whether plaintext credentials must be refused
// because TLS is inactive and the server was not configured to allow it
// (spec §4.3, §8 invariant: no plaintext credentials without TLS unless
// explicitly enabled).
func (s *Session) RequiresTLSForAuth() bool {
	return !s.IsTLSActive() && !s.allowPlaintext
}

// SetUsername stores the username from the USER command.
func (s *Session) SetUsername(username string) {
	s.username = username
}

// Username returns the stored username.
func (s *Session) Username() string {
	return s.username
}

// APOPTimestamp returns the banner challenge offered at connection time.
func (s *Session) APOPTimestamp() string {
	return s.apopTimestamp
}

// Adapter returns the configured mail adapter.
func (s *Session) Adapter() mailadapter.Adapter {
	return s.adapter
}

// SetAuthenticated transitions to StateTransaction after successful
// authentication and records the adapter identity.
func (s *Session) SetAuthenticated(identity mailadapter.Identity) {
	s.state = StateTransaction
	s.identity = identity
}

// IsAuthenticated returns true if in StateTransaction or StateUpdate.
func (s *Session) IsAuthenticated() bool {
	return s.state == StateTransaction || s.state == StateUpdate
}

// Identity returns the authenticated identity, zero value if unauthenticated.
func (s *Session) Identity() mailadapter.Identity {
	return s.identity
}

// EnterUpdate transitions to StateUpdate (called when QUIT is received in Transaction).
func (s *Session) EnterUpdate() {
	if s.state == StateTransaction {
		s.state = StateUpdate
	}
}

// SetSASLServer sets the active SASL server for a multi-step exchange.
func (s *Session) SetSASLServer(mech string, server sasl.Server) {
	s.saslMech = mech
	s.saslServer = server
}

// SASLServer returns the active SASL server, or nil if none.
func (s *Session) SASLServer() sasl.Server {
	return s.saslServer
}

// SASLMech returns the current SASL mechanism name.
func (s *Session) SASLMech() string {
	return s.saslMech
}

// ClearSASL clears the SASL state after completion or cancellation.
func (s *Session) ClearSASL() {
	s.saslServer = nil
	s.saslMech = ""
}

// IsSASLInProgress returns true if a SASL exchange is in progress.
func (s *Session) IsSASLInProgress() bool {
	return s.saslServer != nil
}

// SetUTF8 marks the session as having negotiated the UTF8 extension
// (RFC 6856). utf8Command calls it only in AUTHORIZATION.
func (s *Session) SetUTF8() {
	s.utf8 = true
}

// UTF8Enabled reports whether UTF8 has been negotiated.
func (s *Session) UTF8Enabled() bool {
	return s.utf8
}

// ReadOnly reports whether this session holds its mailbox lock in read-only
// mode (X-POP3SF-READ-ONLY, spec §4.4).
func (s *Session) ReadOnly() bool {
	return s.readOnly
}

// Cleanup performs cleanup when the session ends: releases the mailbox lock
// (abandoning any uncommitted deletions) and drops the adapter identity.
func (s *Session) Cleanup(ctx context.Context) {
	if s.mailbox != nil {
		_ = s.mailbox.Abandon(ctx)
		s.mailbox = nil
	}
	if s.lockHandle != nil {
		s.lockHandle.Release()
		s.lockHandle = nil
	}
	s.identity = mailadapter.Identity{}
}

// OpenMailbox acquires the mailbox lock in the requested mode and loads the
// message snapshot. Should be called once, immediately after authentication
// (spec §4.3, §4.4).
func (s *Session) OpenMailbox(ctx context.Context, registry *LockRegistry, readOnly bool) error {
	if s.identity.LockScope == "" {
		return ErrMailboxNotInitialized
	}

	handle, err := registry.Acquire(s.identity.LockScope, readOnly)
	if err != nil {
		return err
	}

	mb, err := s.adapter.OpenMailbox(ctx, s.identity, readOnly)
	if err != nil {
		handle.Release()
		return err
	}

	messages, err := mb.ListMessages(ctx)
	if err != nil {
		handle.Release()
		_ = mb.Abandon(ctx)
		return err
	}

	s.lockHandle = handle
	s.mailbox = mb
	s.readOnly = readOnly
	s.messageList = messages
	s.deletedSet = make(map[int]bool)
	return nil
}

// Mailbox returns the opened mailbox, or nil before OpenMailbox succeeds.
func (s *Session) Mailbox() mailadapter.Mailbox {
	return s.mailbox
}

// MessageCount returns the count of non-deleted messages.
func (s *Session) MessageCount() int {
	count := 0
	for i := range s.messageList {
		if !s.deletedSet[i+1] {
			count++
		}
	}
	return count
}

// TotalSize returns the total size of non-deleted messages in bytes.
func (s *Session) TotalSize() int64 {
	var total int64
	for i, msg := range s.messageList {
		if !s.deletedSet[i+1] {
			total += msg.Size
		}
	}
	return total
}

// GetMessage returns message info by 1-based message number.
func (s *Session) GetMessage(msgNum int) (*mailadapter.MessageRef, error) {
	if s.messageList == nil {
		return nil, ErrMailboxNotInitialized
	}
	if msgNum < 1 || msgNum > len(s.messageList) {
		return nil, ErrNoSuchMessage
	}
	if s.deletedSet[msgNum] {
		return nil, ErrMessageDeleted
	}
	return &s.messageList[msgNum-1], nil
}

// MarkDeleted marks a message for deletion by 1-based message number.
// Refused outright on a read-only session (spec §4.4).
func (s *Session) MarkDeleted(msgNum int) error {
	if s.readOnly {
		return ErrReadOnlyRefusal
	}
	if s.messageList == nil {
		return ErrMailboxNotInitialized
	}
	if msgNum < 1 || msgNum > len(s.messageList) {
		return ErrNoSuchMessage
	}
	if s.deletedSet[msgNum] {
		return ErrMessageDeleted
	}
	s.deletedSet[msgNum] = true
	return nil
}

// ResetDeletions clears all deletion marks (RSET command).
func (s *Session) ResetDeletions() error {
	if s.readOnly {
		return ErrReadOnlyRefusal
	}
	s.deletedSet = make(map[int]bool)
	return nil
}

// DeletedIndices returns the 1-based indices marked for deletion.
func (s *Session) DeletedIndices() []int {
	var indices []int
	for msgNum := range s.deletedSet {
		indices = append(indices, msgNum)
	}
	return indices
}

// Commit applies pending deletions via the adapter, entering the UPDATE
// semantics of spec §3. A no-op (but still successful) on read-only
// sessions, which may never delete.
func (s *Session) Commit(ctx context.Context) error {
	if s.mailbox == nil {
		return nil
	}
	indices := s.DeletedIndices()
	if len(indices) == 0 {
		return nil
	}
	return s.mailbox.CommitDeletions(ctx, indices)
}

// AllMessages returns iterating info for all non-deleted messages (for
// LIST/UIDL). MsgNum is 1-based.
func (s *Session) AllMessages() []struct {
	MsgNum int
	Info   mailadapter.MessageRef
} {
	var result []struct {
		MsgNum int
		Info   mailadapter.MessageRef
	}
	for i, msg := range s.messageList {
		if !s.deletedSet[i+1] {
			result = append(result, struct {
				MsgNum int
				Info   mailadapter.MessageRef
			}{MsgNum: i + 1, Info: msg})
		}
	}
	return result
}
