package session

import (
	"log/slog"
	"sync"
)

// Key builds the session key for a document tab. Content, chat and history
// persist under this key, so each tab is its own document as far as the
// store is concerned.
func Key(docID, tabID string) string {
	return docID + "::" + tabID
}

// Registry hands out at most one live Session per key. Sessions are
// refcounted by their connections and evicted when the last one releases;
// everything worth keeping across empty periods lives in the store, so an
// evicted key simply gets a fresh Session on the next connection.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*registryEntry
}

type registryEntry struct {
	sess *Session
	refs int
}

func NewRegistry(st Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    st,
		logger:   logger,
		sessions: make(map[string]*registryEntry),
	}
}

// Acquire returns the session for key, creating it on first use, and takes
// a reference that must be paired with Release.
func (r *Registry) Acquire(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		e = &registryEntry{sess: New(key, r.store, r.logger)}
		r.sessions[key] = e
		r.logger.Debug("session created", "key", key)
	}
	e.refs++
	return e.sess
}

// Release drops one reference; the session is evicted when none remain.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.sessions, key)
		r.logger.Debug("session evicted", "key", key)
	}
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
