package pop3

import "sync"

// LockRegistry enforces POP3's exclusive mailbox access rule with the
// read-only extension (spec §4.4): at most one exclusive holder per mailbox,
// or any number of read-only holders, never both at once. Generalized from
// the single-user activeUsersMap/lockMutex idiom (one mutex-guarded map,
// short critical sections per operation) to the two-mode rule.
type LockRegistry struct {
	mu      sync.Mutex
	records map[string]*lockRecord
}

type lockRecord struct {
	exclusive *Handle
	readOnly  map[*Handle]struct{}
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{records: make(map[string]*lockRecord)}
}

// Handle represents one session's hold on a mailbox lock. Release is
// idempotent and safe to call from any termination path (normal QUIT,
// client drop, timeout, TLS failure, shutdown).
type Handle struct {
	registry *LockRegistry
	key      string
	readOnly bool
	released bool
}

// Acquire attempts to lock the mailbox identified by key (the session
// passes the identity's LockScope) in the given mode. Exclusive acquisition succeeds iff the record has no
// holder at all; read-only acquisition succeeds iff no exclusive holder
// exists. Returns ErrLockBusy on conflict.
func (r *LockRegistry) Acquire(key string, readOnly bool) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[key]
	if rec == nil {
		rec = &lockRecord{readOnly: make(map[*Handle]struct{})}
		r.records[key] = rec
	}

	if readOnly {
		if rec.exclusive != nil {
			return nil, ErrLockBusy
		}
		h := &Handle{registry: r, key: key, readOnly: true}
		rec.readOnly[h] = struct{}{}
		return h, nil
	}

	if rec.exclusive != nil || len(rec.readOnly) > 0 {
		return nil, ErrLockBusy
	}
	h := &Handle{registry: r, key: key, readOnly: false}
	rec.exclusive = h
	return h, nil
}

// Release gives up the lock. Safe to call multiple times.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true

	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[h.key]
	if rec == nil {
		return
	}
	if h.readOnly {
		delete(rec.readOnly, h)
	} else if rec.exclusive == h {
		rec.exclusive = nil
	}
	if rec.exclusive == nil && len(rec.readOnly) == 0 {
		delete(r.records, h.key)
	}
}
