package infodancer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/infodancer/pop3d/internal/mailadapter"
)

func writePasswdFile(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "passwd")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write passwd file: %v", err)
	}
	return path
}

func TestLoadPasswdFileAndAuthenticate(t *testing.T) {
	dir := t.TempDir()
	maildir := filepath.Join(dir, "alice-mail")
	if err := os.MkdirAll(maildir, 0o700); err != nil {
		t.Fatalf("mkdir maildir: %v", err)
	}

	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	path := writePasswdFile(t, dir, "alice:"+hash+":"+maildir)

	adapter, err := LoadPasswdFile(path)
	if err != nil {
		t.Fatalf("LoadPasswdFile: %v", err)
	}

	identity, err := adapter.Authenticate(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Username != "alice" || identity.LockScope != "alice" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if _, err := adapter.Authenticate(context.Background(), "alice", "wrong"); !errors.Is(err, mailadapter.ErrAuthFailed) {
		t.Fatalf("want ErrAuthFailed for bad password, got %v", err)
	}
	if _, err := adapter.Authenticate(context.Background(), "nobody", "s3cret"); !errors.Is(err, mailadapter.ErrAuthFailed) {
		t.Fatalf("want ErrAuthFailed for unknown user, got %v", err)
	}
}

func TestFileMailboxListAndFetch(t *testing.T) {
	dir := t.TempDir()
	maildir := filepath.Join(dir, "alice-mail")
	if err := os.MkdirAll(maildir, 0o700); err != nil {
		t.Fatalf("mkdir maildir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(maildir, "1"), []byte("Subject: hi\r\n\r\nbody line\r\n"), 0o600); err != nil {
		t.Fatalf("write message: %v", err)
	}

	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	path := writePasswdFile(t, dir, "alice:"+hash+":"+maildir)

	adapter, err := LoadPasswdFile(path)
	if err != nil {
		t.Fatalf("LoadPasswdFile: %v", err)
	}

	identity, err := adapter.Authenticate(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	mb, err := adapter.OpenMailbox(context.Background(), identity, false)
	if err != nil {
		t.Fatalf("OpenMailbox: %v", err)
	}

	refs, err := mb.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(refs) != 1 || refs[0].UID != "1" {
		t.Fatalf("unexpected refs: %v", refs)
	}

	rc, err := mb.FetchMessage(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	defer rc.Close()

	if err := mb.CommitDeletions(context.Background(), []int{1}); err != nil {
		t.Fatalf("CommitDeletions: %v", err)
	}
	if _, err := os.Stat(filepath.Join(maildir, "1")); !os.IsNotExist(err) {
		t.Fatalf("expected message file removed after CommitDeletions")
	}
}

func TestFileMailboxListMessagesMissingDirIsEmpty(t *testing.T) {
	mb := &fileMailbox{dir: "/nonexistent/path/for/test"}
	refs, err := mb.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("expected no error for missing maildir, got %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no messages, got %v", refs)
	}
}
