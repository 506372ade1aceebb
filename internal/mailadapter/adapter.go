// Package mailadapter defines the contract the POP3 engine uses to
// authenticate users and read their mailboxes (spec §4.3, component C3).
// The engine knows nothing about any concrete adapter's storage format; it
// only calls through this interface.
package mailadapter

import (
	"context"
	"errors"
	"io"
)

// Errors returned by adapter implementations. The engine maps these to the
// wire error kinds in spec §7.
var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrMailboxLocked = errors.New("mailbox locked")
	ErrTransient     = errors.New("backend temporarily unavailable")
	ErrPermanent     = errors.New("backend error")
)

// Identity represents a successfully authenticated user.
type Identity struct {
	// Username is the canonical identity string (e.g. "alice@example.com").
	Username string
	// LockScope groups identities that must mutually exclude each other in
	// the mailbox lock registry; normally equal to Username, but an adapter
	// may map aliases onto one underlying mailbox.
	LockScope string
}

// MessageRef describes one message in a mailbox snapshot (spec §3).
type MessageRef struct {
	// UID is the opaque, stable identifier used by UIDL. Must contain only
	// 0x21..0x7E excluding whitespace, and be unique within the mailbox.
	UID string
	// Size is the message size in octets as the adapter reports it.
	Size int64
}

// Adapter is the engine's view of an authentication + mailbox backend.
type Adapter interface {
	// Authenticate verifies a username/password pair (USER/PASS, or the
	// credential callback of a SASL mechanism). Returns ErrAuthFailed (or a
	// wrapping error) on bad credentials.
	Authenticate(ctx context.Context, user, password string) (Identity, error)

	// AuthenticateAPOP verifies an APOP digest. Only called if SupportsAPOP
	// returns true.
	AuthenticateAPOP(ctx context.Context, user, timestamp, digest string) (Identity, error)

	// SupportsAPOP reports whether this adapter can expose the shared
	// secret APOP requires. When false, APOP is omitted from CAPA and the
	// command is refused (spec §9(c)).
	SupportsAPOP() bool

	// SupportsMultipleUsers reports whether the backend can serve more than
	// one distinct mailbox (informational; the engine does not consult it).
	SupportsMultipleUsers() bool

	// SASLMechanisms lists additional SASL mechanism names this adapter can
	// back (beyond the engine's built-in PLAIN), for CAPA's "SASL <mechs>".
	SASLMechanisms() []string

	// OpenMailbox returns a snapshot-backed Mailbox for identity. Must be
	// idempotent when readOnly is true (spec §4.3).
	OpenMailbox(ctx context.Context, identity Identity, readOnly bool) (Mailbox, error)
}

// Mailbox is a snapshot of one user's messages, opened for the lifetime of
// a session (spec §3 message view invariants).
type Mailbox interface {
	// ListMessages returns the ordered (uid, size) pairs backing the
	// session's message view. Order must be stable within this snapshot.
	ListMessages(ctx context.Context) ([]MessageRef, error)

	// FetchMessage streams the full RFC 5322 message at the given 1-based
	// index in the snapshot returned by ListMessages. Called at most once
	// per RETR.
	FetchMessage(ctx context.Context, index int) (io.ReadCloser, error)

	// FetchTop streams headers, the blank separator line, and the first
	// nBodyLines body lines of the message at index.
	FetchTop(ctx context.Context, index int, nBodyLines int) (io.ReadCloser, error)

	// CommitDeletions applies deletion of the messages at the given
	// 1-based indices. Called only on the TRANSACTION->UPDATE transition
	// triggered by QUIT (spec invariant 4).
	CommitDeletions(ctx context.Context, indices []int) error

	// Abandon releases any resources held by the snapshot without
	// committing deletions (client drop, timeout, RSET-then-disconnect).
	Abandon(ctx context.Context) error
}
