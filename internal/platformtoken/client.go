package platformtoken

import (
	"net/http"

	"github.com/yourorg/badgeauth/internal/account"
)

// APIClient carries ready-to-send credentials for calls to the OpenBadges server.
type APIClient struct {
	Token   string
	Headers http.Header
}

// CreateOpenBadgesAPIClient mints a token for u and wraps it in request headers.
func (s *Service) CreateOpenBadgesAPIClient(u *account.User) (*APIClient, error) {
	token, err := s.GeneratePlatformToken(u)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return &APIClient{Token: token, Headers: h}, nil
}
