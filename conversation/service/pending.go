package service

import (
	"fmt"
	"sync"
	"time"
)

// DefaultPendingExpiry is how long an in-flight upload key lives. Expiry is
// unconditional; it does not wait for server confirmation.
const DefaultPendingExpiry = 5 * time.Second

// PendingSet tracks client-generated keys for attachments in flight. It
// exists only so the UI can avoid double-counting an upload the user just
// initiated; it plays no part in delivery correctness.
type PendingSet struct {
	mu      sync.Mutex
	expiry  time.Duration
	entries map[string]*time.Timer
	closed  bool
}

// NewPendingSet creates a pending set with the given expiry (default 5s).
func NewPendingSet(expiry time.Duration) *PendingSet {
	if expiry <= 0 {
		expiry = DefaultPendingExpiry
	}
	return &PendingSet{
		expiry:  expiry,
		entries: make(map[string]*time.Timer),
	}
}

// PendingKey derives the key for one upload from its filename and
// submission time.
func PendingKey(filename string, at time.Time) string {
	return fmt.Sprintf("%s-%d", filename, at.Unix())
}

// Add registers an upload and returns its key. The entry expires after the
// configured delay regardless of upload outcome.
func (p *PendingSet) Add(filename string, at time.Time) string {
	key := PendingKey(filename, at)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return key
	}
	if t, ok := p.entries[key]; ok {
		t.Stop()
	}
	p.entries[key] = time.AfterFunc(p.expiry, func() { p.remove(key) })
	return key
}

// Contains reports whether an upload key is still pending.
func (p *PendingSet) Contains(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	return ok
}

// Len returns the number of pending uploads.
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close cancels every expiry timer deterministically.
func (p *PendingSet) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for key, t := range p.entries {
		t.Stop()
		delete(p.entries, key)
	}
}

func (p *PendingSet) remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}
