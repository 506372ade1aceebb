package infodancer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/infodancer/pop3d/internal/mailadapter"
)

// PasswdFileAdapter is a self-contained mailadapter.Adapter backed by a
// flat credential file and one maildir-style directory of flat files per
// mailbox. It exists so this module is fully runnable and testable without
// compiling in a real infodancer/auth backend (the teacher registers one
// via a blank import of infodancer/auth/passwd, an external package not
// present in this pack).
//
// Credential file format, one entry per line:
//
//	username:bcrypt-hash:/path/to/maildir
type PasswdFileAdapter struct {
	mu      sync.RWMutex
	entries map[string]passwdEntry
}

type passwdEntry struct {
	hash string
	dir  string
}

// LoadPasswdFile parses a credential file in the format above.
func LoadPasswdFile(path string) (*PasswdFileAdapter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a := &PasswdFileAdapter{entries: make(map[string]passwdEntry)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("passwdfile: malformed line %q", line)
		}
		a.entries[parts[0]] = passwdEntry{hash: parts[1], dir: parts[2]}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// HashPassword produces a bcrypt hash suitable for a credential file entry.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a *PasswdFileAdapter) Authenticate(ctx context.Context, user, password string) (mailadapter.Identity, error) {
	a.mu.RLock()
	entry, ok := a.entries[user]
	a.mu.RUnlock()
	if !ok {
		return mailadapter.Identity{}, mailadapter.ErrAuthFailed
	}
	if bcrypt.CompareHashAndPassword([]byte(entry.hash), []byte(password)) != nil {
		return mailadapter.Identity{}, mailadapter.ErrAuthFailed
	}
	return mailadapter.Identity{Username: user, LockScope: user}, nil
}

func (a *PasswdFileAdapter) AuthenticateAPOP(ctx context.Context, user, timestamp, digest string) (mailadapter.Identity, error) {
	return mailadapter.Identity{}, mailadapter.ErrAuthFailed
}

func (a *PasswdFileAdapter) SupportsAPOP() bool { return false }

func (a *PasswdFileAdapter) SupportsMultipleUsers() bool { return true }

func (a *PasswdFileAdapter) SASLMechanisms() []string { return nil }

func (a *PasswdFileAdapter) OpenMailbox(ctx context.Context, identity mailadapter.Identity, readOnly bool) (mailadapter.Mailbox, error) {
	a.mu.RLock()
	entry, ok := a.entries[identity.Username]
	a.mu.RUnlock()
	if !ok {
		return nil, mailadapter.ErrPermanent
	}
	return &fileMailbox{dir: entry.dir}, nil
}

// fileMailbox presents every regular file directly inside dir as one
// message, named by its UID (the file's base name) and sized by stat.
type fileMailbox struct {
	dir      string
	snapshot []string // uid == file name, 1-based index into this slice
}

func (m *fileMailbox) ListMessages(ctx context.Context) ([]mailadapter.MessageRef, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.snapshot = nil
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	m.snapshot = names

	refs := make([]mailadapter.MessageRef, len(names))
	for i, name := range names {
		info, err := os.Stat(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
		}
		refs[i] = mailadapter.MessageRef{UID: name, Size: info.Size()}
	}
	return refs, nil
}

func (m *fileMailbox) resolve(index int) (string, error) {
	if index < 1 || index > len(m.snapshot) {
		return "", mailadapter.ErrPermanent
	}
	return m.snapshot[index-1], nil
}

func (m *fileMailbox) FetchMessage(ctx context.Context, index int) (io.ReadCloser, error) {
	name, err := m.resolve(index)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(m.dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
	}
	return f, nil
}

func (m *fileMailbox) FetchTop(ctx context.Context, index int, nBodyLines int) (io.ReadCloser, error) {
	f, err := m.FetchMessage(ctx, index)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return extractTop(f, nBodyLines)
}

func (m *fileMailbox) CommitDeletions(ctx context.Context, indices []int) error {
	for _, idx := range indices {
		name, err := m.resolve(idx)
		if err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", mailadapter.ErrTransient, err)
		}
	}
	return nil
}

func (m *fileMailbox) Abandon(ctx context.Context) error {
	return nil
}
