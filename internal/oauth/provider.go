package oauth

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const (
	GitHub  = "github"
	Google  = "google"
	Discord = "discord"
)

// Credentials are the per-provider client settings.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Profile is the provider identity normalised across providers.
type Profile struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Username       string
	FirstName      string
	LastName       string
	// Raw is the provider's userinfo document, stored as the link's profile snapshot.
	Raw json.RawMessage
}

// Provider describes one identity provider. The broker runs the same flow
// for every provider; only the fields below differ.
type Provider struct {
	Name string
	Credentials
	Endpoint    oauth2.Endpoint
	Scopes      []string
	AuthOptions []oauth2.AuthCodeOption
	UserInfoURL string
	// EmailsURL is queried when the userinfo document carries no email.
	EmailsURL string
	// Refreshable is false for providers that never issue refresh tokens.
	Refreshable bool
	Decode      func(raw []byte) (*Profile, error)
}

// Configured reports whether client credentials are present.
func (p *Provider) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

func (p *Provider) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
	}
}

func NewGitHub(c Credentials) *Provider {
	return &Provider{
		Name:        GitHub,
		Credentials: c,
		Endpoint:    github.Endpoint,
		Scopes:      []string{"read:user", "user:email"},
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		Decode:      decodeGitHub,
	}
}

func NewGoogle(c Credentials) *Provider {
	return &Provider{
		Name:        Google,
		Credentials: c,
		Endpoint:    google.Endpoint,
		Scopes:      []string{"openid", "email", "profile"},
		// offline access plus consent is what makes Google hand out a refresh token
		AuthOptions: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")},
		UserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		Refreshable: true,
		Decode:      decodeGoogle,
	}
}

func NewDiscord(c Credentials) *Provider {
	return &Provider{
		Name:        Discord,
		Credentials: c,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://discord.com/oauth2/authorize",
			TokenURL: "https://discord.com/api/oauth2/token",
		},
		Scopes:      []string{"identify", "email"},
		UserInfoURL: "https://discord.com/api/users/@me",
		Refreshable: true,
		Decode:      decodeDiscord,
	}
}

func decodeGitHub(raw []byte) (*Profile, error) {
	var u struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, errors.New("github profile has no id")
	}
	first, last := splitName(u.Name)
	return &Profile{
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Email:          u.Email,
		// GitHub only lets users publish an email they have verified.
		EmailVerified: u.Email != "",
		Username:      u.Login,
		FirstName:     first,
		LastName:      last,
		Raw:           raw,
	}, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// pickGitHubEmail prefers the primary verified address, then any verified one,
// then the primary one.
func pickGitHubEmail(raw []byte) (email string, verified bool, err error) {
	var emails []githubEmail
	if err := json.Unmarshal(raw, &emails); err != nil {
		return "", false, err
	}
	var primary, anyVerified *githubEmail
	for i := range emails {
		e := &emails[i]
		if e.Primary && e.Verified {
			return e.Email, true, nil
		}
		if e.Verified && anyVerified == nil {
			anyVerified = e
		}
		if e.Primary {
			primary = e
		}
	}
	switch {
	case anyVerified != nil:
		return anyVerified.Email, true, nil
	case primary != nil:
		return primary.Email, false, nil
	}
	return "", false, nil
}

func decodeGoogle(raw []byte) (*Profile, error) {
	var u struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	if u.Sub == "" {
		return nil, errors.New("google profile has no sub")
	}
	first, last := u.GivenName, u.FamilyName
	if first == "" && last == "" {
		first, last = splitName(u.Name)
	}
	return &Profile{
		ProviderUserID: u.Sub,
		Email:          u.Email,
		EmailVerified:  u.EmailVerified,
		Username:       u.Name,
		FirstName:      first,
		LastName:       last,
		Raw:            raw,
	}, nil
}

func decodeDiscord(raw []byte) (*Profile, error) {
	var u struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Email      string `json:"email"`
		Verified   bool   `json:"verified"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errors.New("discord profile has no id")
	}
	first, last := splitName(u.GlobalName)
	return &Profile{
		ProviderUserID: u.ID,
		Email:          u.Email,
		EmailVerified:  u.Verified,
		Username:       u.Username,
		FirstName:      first,
		LastName:       last,
		Raw:            raw,
	}, nil
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
