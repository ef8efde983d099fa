package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/store"
	"github.com/google/uuid"
)

// RegistryOptions holds what every session of a registry shares.
type RegistryOptions struct {
	KV            domain.KV
	NewLoader     func() domain.Loader
	RuntimeConfig domain.RuntimeConfig
	Confirm       domain.Confirmer
	Clipboard     domain.Clipboard
	Notifier      domain.Notifier

	// AutoInitialize starts loading the runtime in the background as soon
	// as a session is opened.
	AutoInitialize bool
}

// Registry keeps the live sessions of a server, keyed by id.
type Registry struct {
	opts RegistryOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session under a fresh id and stores its seed files, so
// the id can be resumed after a restart.
func (r *Registry) Create(ctx context.Context) *Session {
	s := r.Open(ctx, uuid.NewString())
	if err := s.files.Flush(ctx); err != nil {
		slog.Warn("Failed to persist new session", "sessionID", s.ID(), "error", err)
	}
	return s
}

// Open returns the live session for id, loading it from the store when it
// is not live yet.
func (r *Registry) Open(ctx context.Context, id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}

	s := New(ctx, Options{
		ID:            id,
		KV:            r.opts.KV,
		Loader:        r.opts.NewLoader(),
		RuntimeConfig: r.opts.RuntimeConfig,
		Confirm:       r.opts.Confirm,
		Clipboard:     r.opts.Clipboard,
		Notifier:      r.opts.Notifier,
	})
	r.sessions[id] = s
	slog.Info("Session opened", "sessionID", id, "backend", s.runtime.Backend())

	if r.opts.AutoInitialize {
		go func() {
			// Failures are reported on the session console.
			_ = s.Initialize(context.Background())
		}()
	}
	return s
}

// Resume returns the live session for id, or reopens it when the store
// still holds its files. Ids the store has never seen get ErrSessionNotFound.
func (r *Registry) Resume(ctx context.Context, id string) (*Session, error) {
	if s, err := r.Get(id); err == nil {
		return s, nil
	}
	if id == "" || !store.New(r.opts.KV, store.Namespace(id)).Exists(ctx) {
		return nil, domain.ErrSessionNotFound
	}
	slog.Info("Resuming stored session", "sessionID", id)
	return r.Open(ctx, id), nil
}

// Get returns a live session or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// IDs lists the live session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes one session. Its persisted files stay in the store.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Close()
	slog.Info("Session closed", "sessionID", id)
	return nil
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		_ = r.Close(id)
	}
}
