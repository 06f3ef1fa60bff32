package account

import "context"

// Repo persists platform users and their provider links.
type Repo interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// CreateUserWithLink stores a new user and its first provider link atomically.
	CreateUserWithLink(ctx context.Context, u *User, l *ProviderLink) error

	// Provider links
	FindUserByOAuthProvider(ctx context.Context, provider, providerUserID string) (*User, *ProviderLink, error)
	GetLink(ctx context.Context, userID, provider string) (*ProviderLink, error)
	ListLinks(ctx context.Context, userID string) ([]ProviderLink, error)
	UpsertLink(ctx context.Context, l *ProviderLink) error
	DeleteLink(ctx context.Context, userID, provider string) (bool, error)
}
