// Package infodancer bridges the engine's mailadapter.Adapter contract to
// the infodancer/auth authentication agent and the infodancer/msgstore
// message store — the same two domain dependencies the teacher wires
// directly into its command layer (see internal/pop3/stack.go,
// internal/pop3/folder_store.go in the reference tree this was grown from).
package infodancer

import (
	"context"
	"fmt"
	"io"

	"github.com/infodancer/auth"
	"github.com/infodancer/msgstore"

	"github.com/infodancer/pop3d/internal/mailadapter"
)

// Adapter implements mailadapter.Adapter over an auth.AuthenticationAgent
// and a msgstore.MessageStore.
type Adapter struct {
	authAgent auth.AuthenticationAgent
	store     msgstore.MessageStore
}

// New creates an Adapter. authAgent may be nil only in tests that never
// call Authenticate; store may be nil only in tests that never open a
// mailbox.
func New(authAgent auth.AuthenticationAgent, store msgstore.MessageStore) *Adapter {
	return &Adapter{authAgent: authAgent, store: store}
}

func (a *Adapter) Authenticate(ctx context.Context, user, password string) (mailadapter.Identity, error) {
	if a.authAgent == nil {
		return mailadapter.Identity{}, mailadapter.ErrAuthFailed
	}
	sess, err := a.authAgent.Authenticate(ctx, user, password)
	if err != nil || sess == nil || sess.User == nil {
		return mailadapter.Identity{}, fmt.Errorf("%w: %v", mailadapter.ErrAuthFailed, err)
	}
	identity := mailadapter.Identity{Username: user, LockScope: sess.User.Mailbox}
	// The engine only needs the mailbox path; zero the auth session's key
	// material immediately rather than holding it for the session lifetime.
	sess.Clear()
	return identity, nil
}

// AuthenticateAPOP is unsupported: the infodancer auth agent exposes no
// shared-secret retrieval (spec §9(c)).
func (a *Adapter) AuthenticateAPOP(ctx context.Context, user, timestamp, digest string) (mailadapter.Identity, error) {
	return mailadapter.Identity{}, mailadapter.ErrAuthFailed
}

func (a *Adapter) SupportsAPOP() bool { return false }

func (a *Adapter) SupportsMultipleUsers() bool { return true }

func (a *Adapter) SASLMechanisms() []string { return nil }

func (a *Adapter) OpenMailbox(ctx context.Context, identity mailadapter.Identity, readOnly bool) (mailadapter.Mailbox, error) {
	if a.store == nil {
		return nil, mailadapter.ErrTransient
	}
	return &mailbox{store: a.store, path: identity.LockScope}, nil
}

// mailbox adapts msgstore.MessageStore (List/Retrieve/Delete/Expunge) to
// mailadapter.Mailbox, resolving 1-based session indices against the
// snapshot captured by ListMessages.
type mailbox struct {
	store msgstore.MessageStore
	path  string

	snapshot []msgstore.MessageInfo
}

func (m *mailbox) ListMessages(ctx context.Context) ([]mailadapter.MessageRef, error) {
	msgs, err := m.store.List(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
	}
	m.snapshot = msgs

	refs := make([]mailadapter.MessageRef, len(msgs))
	for i, msg := range msgs {
		refs[i] = mailadapter.MessageRef{UID: msg.UID, Size: msg.Size}
	}
	return refs, nil
}

func (m *mailbox) resolve(index int) (msgstore.MessageInfo, error) {
	if index < 1 || index > len(m.snapshot) {
		return msgstore.MessageInfo{}, mailadapter.ErrPermanent
	}
	return m.snapshot[index-1], nil
}

func (m *mailbox) FetchMessage(ctx context.Context, index int) (io.ReadCloser, error) {
	msg, err := m.resolve(index)
	if err != nil {
		return nil, err
	}
	rc, err := m.store.Retrieve(ctx, m.path, msg.UID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
	}
	return rc, nil
}

func (m *mailbox) FetchTop(ctx context.Context, index int, nBodyLines int) (io.ReadCloser, error) {
	msg, err := m.resolve(index)
	if err != nil {
		return nil, err
	}
	rc, err := m.store.Retrieve(ctx, m.path, msg.UID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
	}
	defer rc.Close()
	return extractTop(rc, nBodyLines)
}

func (m *mailbox) CommitDeletions(ctx context.Context, indices []int) error {
	for _, idx := range indices {
		msg, err := m.resolve(idx)
		if err != nil {
			return err
		}
		if err := m.store.Delete(ctx, m.path, msg.UID); err != nil {
			return fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
		}
	}
	if len(indices) == 0 {
		return nil
	}
	if err := m.store.Expunge(ctx, m.path); err != nil {
		return fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
	}
	return nil
}

func (m *mailbox) Abandon(ctx context.Context) error {
	return nil
}
