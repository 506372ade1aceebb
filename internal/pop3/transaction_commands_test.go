package pop3

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/infodancer/pop3d/internal/mailadapter"
)

// testConn is a minimal ConnectionLogger for command tests.
type testConn struct{}

func (testConn) Logger() *slog.Logger { return slog.Default() }

func authenticatedSession(t *testing.T, mb *memMailbox, readOnly bool) *Session {
	t.Helper()
	sess := newTestSession(&memAdapter{mailbox: mb})
	sess.SetAuthenticated(mailadapter.Identity{Username: "alice", LockScope: "alice"})
	if err := sess.OpenMailbox(context.Background(), NewLockRegistry(), readOnly); err != nil {
		t.Fatalf("OpenMailbox: %v", err)
	}
	return sess
}

func TestStatCommandReportsCountAndSize(t *testing.T) {
	mb := &memMailbox{msgs: []mailadapter.MessageRef{{UID: "1", Size: 10}, {UID: "2", Size: 20}}}
	sess := authenticatedSession(t, mb, false)

	resp, err := (&statCommand{}).Execute(context.Background(), sess, testConn{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.OK || resp.Message != "2 30" {
		t.Fatalf("got %+v", resp)
	}
}

func TestStatCommandRequiresTransactionState(t *testing.T) {
	sess := newTestSession(&memAdapter{mailbox: &memMailbox{}})
	resp, err := (&statCommand{}).Execute(context.Background(), sess, testConn{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected refusal outside TRANSACTION state, got %+v", resp)
	}
}

func TestDeleCommandMarksMessageDeleted(t *testing.T) {
	mb := &memMailbox{msgs: []mailadapter.MessageRef{{UID: "1", Size: 10}}}
	sess := authenticatedSession(t, mb, false)

	resp, err := (&deleCommand{}).Execute(context.Background(), sess, testConn{}, []string{"1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected success, got %+v", resp)
	}
	if sess.MessageCount() != 0 {
		t.Fatalf("expected message to be excluded after DELE")
	}
}

func TestDeleCommandRefusedOnReadOnlySession(t *testing.T) {
	mb := &memMailbox{msgs: []mailadapter.MessageRef{{UID: "1", Size: 10}}}
	sess := authenticatedSession(t, mb, true)

	resp, err := (&deleCommand{}).Execute(context.Background(), sess, testConn{}, []string{"1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected refusal on read-only session, got %+v", resp)
	}
}

func TestRsetCommandClearsDeletions(t *testing.T) {
	mb := &memMailbox{msgs: []mailadapter.MessageRef{{UID: "1", Size: 10}, {UID: "2", Size: 20}}}
	sess := authenticatedSession(t, mb, false)

	if err := sess.MarkDeleted(1); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	resp, err := (&rsetCommand{}).Execute(context.Background(), sess, testConn{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected success, got %+v", resp)
	}
	if sess.MessageCount() != 2 {
		t.Fatalf("expected deletions cleared, MessageCount=%d", sess.MessageCount())
	}
}

func TestRsetCommandRefusedOnReadOnlySession(t *testing.T) {
	mb := &memMailbox{msgs: []mailadapter.MessageRef{{UID: "1", Size: 10}}}
	sess := authenticatedSession(t, mb, true)

	resp, err := (&rsetCommand{}).Execute(context.Background(), sess, testConn{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected refusal on read-only session even with nothing deleted, got %+v", resp)
	}
}

func TestListCommandWithoutArgsListsAllMessages(t *testing.T) {
	mb := &memMailbox{msgs: []mailadapter.MessageRef{{UID: "1", Size: 10}, {UID: "2", Size: 20}}}
	sess := authenticatedSession(t, mb, false)

	resp, err := (&listCommand{}).Execute(context.Background(), sess, testConn{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.OK || len(resp.Lines) != 2 {
		t.Fatalf("got %+v", resp)
	}
	if resp.Lines[0] != "1 10" || resp.Lines[1] != "2 20" {
		t.Fatalf("unexpected lines: %v", resp.Lines)
	}
}

func TestListCommandEmptyMailboxIsTerminated(t *testing.T) {
	sess := authenticatedSession(t, &memMailbox{}, false)

	resp, err := (&listCommand{}).Execute(context.Background(), sess, testConn{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.OK || len(resp.Lines) != 0 {
		t.Fatalf("got %+v", resp)
	}
	if want := "+OK 0 messages (0 octets)\r\n.\r\n"; resp.String() != want {
		t.Fatalf("String() = %q, want %q", resp.String(), want)
	}
}

func TestUidlCommandSingleMessageUnknown(t *testing.T) {
	mb := &memMailbox{msgs: []mailadapter.MessageRef{{UID: "abc123", Size: 10}}}
	sess := authenticatedSession(t, mb, false)

	resp, err := (&uidlCommand{}).Execute(context.Background(), sess, testConn{}, []string{"9"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected out-of-range refusal, got %+v", resp)
	}
}

func TestMessageErrorResponseMapsKinds(t *testing.T) {
	resp := messageErrorResponse(ErrNoSuchMessage)
	if resp.OK {
		t.Fatalf("expected -ERR for ErrNoSuchMessage")
	}

	resp2 := messageErrorResponse(errors.New("boom"))
	if resp2.OK {
		t.Fatalf("expected -ERR for unknown error")
	}
}
