package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/yourorg/badgeauth/internal/account"
)

// Unlink removes the user's link to provider. Removing a link that does not
// exist succeeds; the returned bool reports whether anything was deleted.
func (b *Broker) Unlink(ctx context.Context, userID, provider string) (bool, error) {
	if userID == "" {
		return false, ErrMissingUserID
	}
	name := strings.ToLower(provider)
	if _, ok := b.providers[name]; !ok {
		return false, ErrUnsupportedProvider
	}
	removed, err := b.accounts.DeleteLink(ctx, userID, name)
	if err != nil {
		return false, ErrLinkStore.with(err)
	}
	if removed {
		b.logger.Info("provider unlinked", zap.String("provider", name), zap.String("user_id", userID))
	}
	return removed, nil
}

// Refresh trades the stored refresh token for a new access token and saves it.
// Providers without refresh support fail before any lookup or network call.
func (b *Broker) Refresh(ctx context.Context, userID, provider string) (*account.ProviderLink, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	p, err := b.lookup(provider)
	if err != nil {
		return nil, err
	}
	if !p.Refreshable {
		return nil, ErrRefreshUnsupported
	}

	link, err := b.accounts.GetLink(ctx, userID, p.Name)
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, ErrLinkStore.with(err)
	}
	if link.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	// An empty access token forces the source to hit the token endpoint.
	src := p.config().TokenSource(b.providerContext(ctx), &oauth2.Token{RefreshToken: link.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		b.logger.Error("provider token refresh failed",
			zap.String("provider", p.Name),
			zap.String("user_id", userID),
			zap.Int("status", retrieveStatus(err)),
			zap.Error(redact(err)))
		return nil, ErrTokenRefresh.with(err)
	}

	link.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		link.RefreshToken = tok.RefreshToken
	}
	link.TokenExpiresAt = tok.Expiry
	link.UpdatedAt = b.now().UTC()
	if err := b.accounts.UpsertLink(ctx, link); err != nil {
		return nil, ErrLinkStore.with(err)
	}
	return link, nil
}

// LinkedProvider is one row of a user's provider overview.
type LinkedProvider struct {
	Provider string          `json:"provider"`
	Linked   bool            `json:"linked"`
	Profile  json.RawMessage `json:"profile"`
	LinkedAt *time.Time      `json:"linked_at"`
}

// LinkedProviders reports, for every configured provider, whether the user has linked it.
func (b *Broker) LinkedProviders(ctx context.Context, userID string) ([]LinkedProvider, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	links, err := b.accounts.ListLinks(ctx, userID)
	if err != nil {
		return nil, ErrLinkStore.with(err)
	}
	byProvider := make(map[string]account.ProviderLink, len(links))
	for _, l := range links {
		byProvider[l.Provider] = l
	}

	out := make([]LinkedProvider, 0, len(b.providers))
	for _, name := range b.Providers() {
		lp := LinkedProvider{Provider: name, Profile: json.RawMessage("null")}
		if l, ok := byProvider[name]; ok {
			linkedAt := l.CreatedAt
			lp.Linked = true
			lp.LinkedAt = &linkedAt
			if len(l.ProfileData) > 0 {
				lp.Profile = l.ProfileData
			}
		}
		out = append(out, lp)
	}
	return out, nil
}
