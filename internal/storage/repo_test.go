package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/storage"
	"github.com/yourorg/badgeauth/internal/storage/storagetest"
)

func TestInMemoryRepo(t *testing.T) {
	runRepoSuite(t, func(t *testing.T) account.Repo { return storage.NewInMemoryRepo() })
}

func TestSQLRepo_SQLite(t *testing.T) {
	runRepoSuite(t, func(t *testing.T) account.Repo { return storage.NewSQLRepo(storagetest.SQLite(t)) })
}

func TestSQLRepo_Postgres(t *testing.T) {
	runRepoSuite(t, func(t *testing.T) account.Repo { return storage.NewSQLRepo(storagetest.Postgres(t)) })
}

func newUser(id, email string) *account.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &account.User{ID: id, Username: id, Email: email, FirstName: "Test", CreatedAt: now, UpdatedAt: now}
}

func newLink(userID, provider, providerUserID string) *account.ProviderLink {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &account.ProviderLink{
		UserID:         userID,
		Provider:       provider,
		ProviderUserID: providerUserID,
		AccessToken:    "access-" + providerUserID,
		TokenExpiresAt: now.Add(time.Hour),
		ProfileData:    []byte(`{"id":"` + providerUserID + `"}`),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func runRepoSuite(t *testing.T, open func(t *testing.T) account.Repo) {
	ctx := context.Background()

	t.Run("users by id and case-insensitive email", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.CreateUser(ctx, newUser("u1", "Ada@Example.com")))

		byID, err := repo.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", byID.Email)

		byEmail, err := repo.GetUserByEmail(ctx, "ADA@example.COM")
		require.NoError(t, err)
		assert.Equal(t, "u1", byEmail.ID)

		_, err = repo.GetUserByID(ctx, "missing")
		assert.ErrorIs(t, err, account.ErrNotFound)
		_, err = repo.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.CreateUser(ctx, newUser("u1", "ada@example.com")))
		err := repo.CreateUser(ctx, newUser("u2", "ada@example.com"))
		assert.ErrorIs(t, err, account.ErrConflict)
	})

	t.Run("find user by provider identity", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.CreateUserWithLink(ctx, newUser("u1", "ada@example.com"), newLink("u1", "github", "gh-1")))

		u, l, err := repo.FindUserByOAuthProvider(ctx, "github", "gh-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "access-gh-1", l.AccessToken)
		assert.JSONEq(t, `{"id":"gh-1"}`, string(l.ProfileData))

		_, _, err = repo.FindUserByOAuthProvider(ctx, "google", "gh-1")
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("upsert updates tokens and keeps linked_at", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.CreateUserWithLink(ctx, newUser("u1", "ada@example.com"), newLink("u1", "google", "g-1")))
		before, err := repo.GetLink(ctx, "u1", "google")
		require.NoError(t, err)

		updated := newLink("u1", "google", "g-1")
		updated.AccessToken = "rotated"
		updated.RefreshToken = "refresh"
		updated.CreatedAt = before.CreatedAt.Add(time.Hour)
		require.NoError(t, repo.UpsertLink(ctx, updated))

		after, err := repo.GetLink(ctx, "u1", "google")
		require.NoError(t, err)
		assert.Equal(t, "rotated", after.AccessToken)
		assert.Equal(t, "refresh", after.RefreshToken)
		assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
	})

	t.Run("provider identity belongs to one user", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.CreateUserWithLink(ctx, newUser("u1", "a@example.com"), newLink("u1", "discord", "d-1")))
		require.NoError(t, repo.CreateUser(ctx, newUser("u2", "b@example.com")))

		err := repo.UpsertLink(ctx, newLink("u2", "discord", "d-1"))
		assert.ErrorIs(t, err, account.ErrConflict)
	})

	t.Run("create user with link is atomic", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.CreateUserWithLink(ctx, newUser("u1", "a@example.com"), newLink("u1", "github", "gh-1")))

		err := repo.CreateUserWithLink(ctx, newUser("u2", "b@example.com"), newLink("u2", "github", "gh-1"))
		assert.ErrorIs(t, err, account.ErrConflict)
		_, err = repo.GetUserByID(ctx, "u2")
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("list and delete links", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.CreateUserWithLink(ctx, newUser("u1", "a@example.com"), newLink("u1", "google", "g-1")))
		require.NoError(t, repo.UpsertLink(ctx, newLink("u1", "github", "gh-1")))

		links, err := repo.ListLinks(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, links, 2)
		assert.Equal(t, "github", links[0].Provider)
		assert.Equal(t, "google", links[1].Provider)

		removed, err := repo.DeleteLink(ctx, "u1", "github")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = repo.DeleteLink(ctx, "u1", "github")
		require.NoError(t, err)
		assert.False(t, removed)

		_, _, err = repo.FindUserByOAuthProvider(ctx, "github", "gh-1")
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("concurrent link creation for one identity", func(t *testing.T) {
		repo := open(t)
		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := string(rune('a' + i))
				errs[i] = repo.CreateUserWithLink(ctx, newUser("u-"+id, id+"@example.com"), newLink("u-"+id, "github", "gh-shared"))
			}(i)
		}
		wg.Wait()
		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, account.ErrConflict)
			}
		}
		assert.Equal(t, 1, ok)
	})
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	_, err := storage.Open(context.Background(), "  ")
	assert.Error(t, err)
}
