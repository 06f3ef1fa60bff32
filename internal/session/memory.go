package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. It suits single-instance
// deployments and tests; sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     options
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		opts:     buildOptions(opts),
	}
}

func (m *MemoryStore) Create(ctx context.Context, provider, redirectURI, codeVerifier string) (*Session, error) {
	s, err := m.opts.newSession(provider, redirectURI, codeVerifier)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.State] = &cp
	return s, nil
}

func (m *MemoryStore) Get(ctx context.Context, state string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[state]
	if !ok {
		return nil, nil
	}
	if s.Expired(m.opts.now()) {
		delete(m.sessions, state)
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) MarkUsed(ctx context.Context, state string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[state]
	if !ok || s.Used || s.Expired(m.opts.now()) {
		return false, nil
	}
	s.Used = true
	return true, nil
}

func (m *MemoryStore) Remove(ctx context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, state)
	return nil
}

func (m *MemoryStore) CleanupExpired(ctx context.Context) (int64, error) {
	return m.sweep(func(s *Session) bool { return s.Expired(m.opts.now()) }), nil
}

func (m *MemoryStore) CleanupUsed(ctx context.Context) (int64, error) {
	return m.sweep(func(s *Session) bool { return s.Used }), nil
}

func (m *MemoryStore) sweep(match func(*Session) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for state, s := range m.sessions {
		if match(s) {
			delete(m.sessions, state)
			n++
		}
	}
	return n
}
