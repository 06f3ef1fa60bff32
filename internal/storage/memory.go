package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/yourorg/badgeauth/internal/account"
)

type linkKey struct{ userID, provider string }

type identityKey struct{ provider, providerUserID string }

// InMemoryRepo is an account.Repo for development and tests. It is owned by
// whoever constructs it; nothing in this package holds one globally.
type InMemoryRepo struct {
	mu         sync.RWMutex
	users      map[string]*account.User
	emails     map[string]string
	links      map[linkKey]*account.ProviderLink
	identities map[identityKey]linkKey
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		users:      make(map[string]*account.User),
		emails:     make(map[string]string),
		links:      make(map[linkKey]*account.ProviderLink),
		identities: make(map[identityKey]linkKey),
	}
}

var _ account.Repo = (*InMemoryRepo)(nil)

func (r *InMemoryRepo) CreateUser(ctx context.Context, u *account.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createUserLocked(u)
}

func (r *InMemoryRepo) createUserLocked(u *account.User) error {
	email := account.NormalizeEmail(u.Email)
	if _, ok := r.users[u.ID]; ok {
		return account.ErrConflict
	}
	if _, ok := r.emails[email]; ok {
		return account.ErrConflict
	}
	cp := *u
	cp.Email = email
	r.users[u.ID] = &cp
	r.emails[email] = u.ID
	return nil
}

func (r *InMemoryRepo) GetUserByID(ctx context.Context, id string) (*account.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *InMemoryRepo) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	r.mu.RLock()
	id, ok := r.emails[account.NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, account.ErrNotFound
	}
	return r.GetUserByID(ctx, id)
}

func (r *InMemoryRepo) CreateUserWithLink(ctx context.Context, u *account.User, l *account.ProviderLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[identityKey{l.Provider, l.ProviderUserID}]; ok {
		return account.ErrConflict
	}
	if err := r.createUserLocked(u); err != nil {
		return err
	}
	return r.upsertLinkLocked(l)
}

func (r *InMemoryRepo) FindUserByOAuthProvider(ctx context.Context, provider, providerUserID string) (*account.User, *account.ProviderLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.identities[identityKey{provider, providerUserID}]
	if !ok {
		return nil, nil, account.ErrNotFound
	}
	u, ok := r.users[key.userID]
	if !ok {
		return nil, nil, account.ErrNotFound
	}
	uc, lc := *u, *r.links[key]
	return &uc, &lc, nil
}

func (r *InMemoryRepo) GetLink(ctx context.Context, userID, provider string) (*account.ProviderLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[linkKey{userID, provider}]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *InMemoryRepo) ListLinks(ctx context.Context, userID string) ([]account.ProviderLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]account.ProviderLink, 0)
	for k, l := range r.links {
		if k.userID == userID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (r *InMemoryRepo) UpsertLink(ctx context.Context, l *account.ProviderLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[l.UserID]; !ok {
		return account.ErrNotFound
	}
	return r.upsertLinkLocked(l)
}

func (r *InMemoryRepo) upsertLinkLocked(l *account.ProviderLink) error {
	key := linkKey{l.UserID, l.Provider}
	id := identityKey{l.Provider, l.ProviderUserID}
	if owner, ok := r.identities[id]; ok && owner != key {
		return account.ErrConflict
	}
	cp := *l
	if prev, ok := r.links[key]; ok {
		cp.CreatedAt = prev.CreatedAt
		delete(r.identities, identityKey{prev.Provider, prev.ProviderUserID})
	}
	r.links[key] = &cp
	r.identities[id] = key
	return nil
}

func (r *InMemoryRepo) DeleteLink(ctx context.Context, userID, provider string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := linkKey{userID, provider}
	l, ok := r.links[key]
	if !ok {
		return false, nil
	}
	delete(r.identities, identityKey{l.Provider, l.ProviderUserID})
	delete(r.links, key)
	return true, nil
}
