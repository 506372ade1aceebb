package pop3

import (
	"errors"
	"testing"
)

func TestLockRegistryExclusiveExcludesExclusive(t *testing.T) {
	reg := NewLockRegistry()

	h1, err := reg.Acquire("alice", false)
	if err != nil {
		t.Fatalf("first exclusive acquire: %v", err)
	}
	defer h1.Release()

	_, err = reg.Acquire("alice", false)
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("want ErrLockBusy, got %v", err)
	}
}

func TestLockRegistryExclusiveExcludesReadOnly(t *testing.T) {
	reg := NewLockRegistry()

	h1, err := reg.Acquire("alice", false)
	if err != nil {
		t.Fatalf("exclusive acquire: %v", err)
	}
	defer h1.Release()

	_, err = reg.Acquire("alice", true)
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("want ErrLockBusy, got %v", err)
	}
}

func TestLockRegistryReadOnlyCoexistence(t *testing.T) {
	reg := NewLockRegistry()

	h1, err := reg.Acquire("alice", true)
	if err != nil {
		t.Fatalf("first read-only acquire: %v", err)
	}
	defer h1.Release()

	h2, err := reg.Acquire("alice", true)
	if err != nil {
		t.Fatalf("second read-only acquire should succeed: %v", err)
	}
	defer h2.Release()
}

func TestLockRegistryReadOnlyExcludesExclusive(t *testing.T) {
	reg := NewLockRegistry()

	h1, err := reg.Acquire("alice", true)
	if err != nil {
		t.Fatalf("read-only acquire: %v", err)
	}
	defer h1.Release()

	_, err = reg.Acquire("alice", false)
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("want ErrLockBusy, got %v", err)
	}
}

func TestLockRegistryReleaseAllowsReacquire(t *testing.T) {
	reg := NewLockRegistry()

	h1, err := reg.Acquire("alice", false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	h1.Release()
	h1.Release() // idempotent

	h2, err := reg.Acquire("alice", false)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	h2.Release()
}

func TestLockRegistryDistinctKeysDoNotConflict(t *testing.T) {
	reg := NewLockRegistry()

	h1, err := reg.Acquire("alice", false)
	if err != nil {
		t.Fatalf("acquire alice: %v", err)
	}
	defer h1.Release()

	h2, err := reg.Acquire("bob", false)
	if err != nil {
		t.Fatalf("acquire bob: %v", err)
	}
	defer h2.Release()
}
