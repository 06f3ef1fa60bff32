package badgesync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/platformtoken"
)

type staticCreds struct{ err error }

func (s staticCreds) CreateOpenBadgesAPIClient(u *account.User) (*platformtoken.APIClient, error) {
	if s.err != nil {
		return nil, s.err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer token-"+u.ID)
	h.Set("Content-Type", "application/json")
	return &platformtoken.APIClient{Token: "token-" + u.ID, Headers: h}, nil
}

var ada = &account.User{ID: "u1", Username: "ada", Email: "ada@example.com", FirstName: "Ada", IsAdmin: true}

func TestSyncUser_PostsUserWithPlatformToken(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, syncPath, r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", staticCreds{}, srv.Client(), nil)
	require.NoError(t, c.SyncUser(context.Background(), ada))
	assert.Equal(t, "Bearer token-u1", auth)
	assert.Equal(t, map[string]any{
		"id": "u1", "username": "ada", "email": "ada@example.com",
		"firstName": "Ada", "lastName": "", "isAdmin": true,
	}, got)
}

func TestSyncUser_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, staticCreds{}, srv.Client(), nil).SyncUser(context.Background(), ada)
	assert.ErrorContains(t, err, "502")

	boom := errors.New("no key")
	err = New(srv.URL, staticCreds{err: boom}, srv.Client(), nil).SyncUser(context.Background(), ada)
	assert.ErrorIs(t, err, boom)
}

func TestSyncUser_DisabledWithoutURL(t *testing.T) {
	c := New("", staticCreds{err: errors.New("must not be called")}, nil, nil)
	assert.False(t, c.Enabled())
	assert.NoError(t, c.SyncUser(context.Background(), ada))
}
