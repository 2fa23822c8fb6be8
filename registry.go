package netsigil

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// Registry maps signatures to operator-assigned descriptions ("Chrome 120 on
// macOS", "curl 8.x", ...), letting a caller classify repeat clients without
// comparing whole canonical strings. Entries are keyed by murmur3-64 of the
// canonical bytes: not collision-proof like the SHA-1 digest, but a cheap
// in-memory table key, and collisions are reported on Add.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint64]string)}
}

// Add registers a signature under desc. It returns the table key and false
// when an entry with the same canonical form is already present, in which
// case the existing entry is kept.
func (r *Registry) Add(sig Signature, desc string) (uint64, bool) {
	key := registryKey(sig)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return key, false
	}
	r.entries[key] = desc
	return key, true
}

// Lookup returns the description registered for a signature's canonical form.
func (r *Registry) Lookup(sig Signature) (string, bool) {
	key := registryKey(sig)
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.entries[key]
	return desc, ok
}

// Len returns the number of registered signatures.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func registryKey(sig Signature) uint64 {
	return murmur3.Sum64([]byte(sig.Canonicalize()))
}
