// Package oauth runs the authorization-code + PKCE flow against the supported
// identity providers and resolves the result to a local account.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/session"
)

const (
	DefaultProviderTimeout = 10 * time.Second
	DefaultSyncTimeout     = 10 * time.Second

	maxProfileBytes = 1 << 20
)

// TokenIssuer mints platform tokens for resolved users.
type TokenIssuer interface {
	GeneratePlatformToken(u *account.User) (string, error)
}

// UserSyncer pushes a user to a downstream service.
type UserSyncer interface {
	SyncUser(ctx context.Context, u *account.User) error
}

// Deps are the broker's collaborators. Sessions, Accounts and Tokens are required.
type Deps struct {
	Sessions session.Store
	Accounts account.Repo
	Tokens   TokenIssuer
	Syncer   UserSyncer

	// HTTPClient is used for token exchange and profile calls. Defaults to a
	// client with DefaultProviderTimeout.
	HTTPClient      *http.Client
	SyncTimeout     time.Duration
	RedirectOrigins []string
	Logger          *zap.Logger
	Now             func() time.Time
}

// Broker is safe for concurrent use. All per-flow state lives in the session store.
type Broker struct {
	providers   map[string]*Provider
	sessions    session.Store
	accounts    account.Repo
	tokens      TokenIssuer
	syncer      UserSyncer
	httpClient  *http.Client
	syncTimeout time.Duration
	origins     map[string]struct{}
	logger      *zap.Logger
	now         func() time.Time

	syncs sync.WaitGroup
}

func NewBroker(providers []*Provider, d Deps) *Broker {
	b := &Broker{
		providers:   make(map[string]*Provider, len(providers)),
		sessions:    d.Sessions,
		accounts:    d.Accounts,
		tokens:      d.Tokens,
		syncer:      d.Syncer,
		httpClient:  d.HTTPClient,
		syncTimeout: d.SyncTimeout,
		origins:     make(map[string]struct{}, len(d.RedirectOrigins)),
		logger:      d.Logger,
		now:         d.Now,
	}
	for _, p := range providers {
		b.providers[p.Name] = p
	}
	for _, o := range d.RedirectOrigins {
		if o = normalizeOrigin(o); o != "" {
			b.origins[o] = struct{}{}
		}
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: DefaultProviderTimeout}
	}
	if b.syncTimeout <= 0 {
		b.syncTimeout = DefaultSyncTimeout
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Providers lists the configured provider names in sorted order.
func (b *Broker) Providers() []string {
	names := make([]string, 0, len(b.providers))
	for name, p := range b.providers {
		if p.Configured() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (b *Broker) lookup(name string) (*Provider, error) {
	p, ok := b.providers[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	if !p.Configured() {
		return nil, ErrProviderNotConfigured
	}
	return p, nil
}

// providerContext routes oauth2 HTTP traffic through the broker's bounded client.
func (b *Broker) providerContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

// Authorization is the result of Initiate.
type Authorization struct {
	URL   string
	State string
}

// Initiate records a new session and returns the provider authorization URL.
// The caller decides how to deliver the URL to the browser.
func (b *Broker) Initiate(ctx context.Context, provider, redirectURI string) (*Authorization, error) {
	p, err := b.lookup(provider)
	if err != nil {
		return nil, err
	}
	redirectURI, err = b.checkRedirect(redirectURI)
	if err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	sess, err := b.sessions.Create(ctx, p.Name, redirectURI, verifier)
	if err != nil {
		return nil, ErrSessionStore.with(err)
	}

	opts := make([]oauth2.AuthCodeOption, 0, len(p.AuthOptions)+1)
	opts = append(opts, p.AuthOptions...)
	opts = append(opts, oauth2.S256ChallengeOption(verifier))
	return &Authorization{
		URL:   p.config().AuthCodeURL(sess.State, opts...),
		State: sess.State,
	}, nil
}

// CallbackRequest is the provider redirect's query.
type CallbackRequest struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is a completed login.
type CallbackResult struct {
	User        *account.User
	Token       string
	RedirectURI string
	Provider    string
	NewUser     bool
}

// Callback completes a flow. The session is validated and consumed before
// any request is made to the provider; the consumed session stays behind as
// a used marker until the sweeper removes it, so a replay is reported as such.
func (b *Broker) Callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	p, err := b.lookup(req.Provider)
	if err != nil {
		return nil, err
	}
	log := b.logger.With(zap.String("provider", p.Name))

	if req.Error != "" {
		log.Info("provider reported an authorization error",
			zap.String("error", req.Error),
			zap.String("description", req.ErrorDescription))
		return nil, ErrProviderError.with(errors.New(req.Error))
	}
	if req.Code == "" || req.State == "" {
		return nil, ErrMissingCodeOrState
	}
	if !session.ValidateStateFormat(req.State) {
		return nil, ErrInvalidStateFormat
	}

	sess, err := b.sessions.Get(ctx, req.State)
	if err != nil {
		return nil, ErrSessionStore.with(err)
	}
	if sess == nil {
		return nil, ErrInvalidSession
	}
	if sess.Provider != p.Name {
		return nil, ErrProviderMismatch
	}
	consumed, err := b.sessions.MarkUsed(ctx, req.State)
	if err != nil {
		return nil, ErrSessionStore.with(err)
	}
	if !consumed {
		log.Warn("oauth session replay rejected", zap.String("session_id", sess.ID))
		return nil, ErrSessionUsed
	}

	pctx := b.providerContext(ctx)
	cfg := p.config()
	var exchangeOpts []oauth2.AuthCodeOption
	if sess.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(sess.CodeVerifier))
	}
	tok, err := cfg.Exchange(pctx, req.Code, exchangeOpts...)
	if err != nil {
		log.Error("token exchange failed", zap.Int("status", retrieveStatus(err)), zap.Error(redact(err)))
		return nil, ErrTokenExchange.with(err)
	}

	profile, err := b.fetchProfile(pctx, p, cfg.Client(pctx, tok))
	if err != nil {
		log.Error("profile fetch failed", zap.Int("status", statusOf(err)), zap.Error(err))
		return nil, ErrProfileFetch.with(err)
	}
	if profile.Email == "" {
		return nil, ErrMissingEmail
	}

	user, created, err := b.resolveUser(ctx, p, profile, tok)
	if err != nil {
		return nil, err
	}
	b.syncUser(ctx, user)

	token, err := b.tokens.GeneratePlatformToken(user)
	if err != nil {
		log.Error("platform token signing failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, ErrTokenIssue.with(err)
	}
	log.Info("oauth login completed", zap.String("user_id", user.ID), zap.Bool("new_user", created))
	return &CallbackResult{
		User:        user,
		Token:       token,
		RedirectURI: sess.RedirectURI,
		Provider:    p.Name,
		NewUser:     created,
	}, nil
}

// Wait blocks until background user syncs have finished.
func (b *Broker) Wait() { b.syncs.Wait() }

// syncUser pushes u downstream without holding up the login. Failures are logged only.
func (b *Broker) syncUser(ctx context.Context, u *account.User) {
	if b.syncer == nil {
		return
	}
	snapshot := *u
	b.syncs.Add(1)
	go func() {
		defer b.syncs.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.syncTimeout)
		defer cancel()
		if err := b.syncer.SyncUser(sctx, &snapshot); err != nil {
			b.logger.Warn("openbadges user sync failed", zap.String("user_id", snapshot.ID), zap.Error(err))
		}
	}()
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.url, e.status)
}

func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

func retrieveStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}

// redact drops the response body oauth2 attaches to exchange errors, which
// may echo client credentials back.
func redact(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode != "" {
			return errors.New(re.ErrorCode)
		}
		return errors.New("token endpoint rejected the request")
	}
	return err
}

func (b *Broker) fetchProfile(ctx context.Context, p *Provider, client *http.Client) (*Profile, error) {
	raw, err := getJSON(ctx, client, p.UserInfoURL)
	if err != nil {
		return nil, err
	}
	profile, err := p.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s profile: %w", p.Name, err)
	}
	if profile.Email == "" && p.EmailsURL != "" {
		raw, err := getJSON(ctx, client, p.EmailsURL)
		if err != nil {
			return nil, err
		}
		if profile.Email, profile.EmailVerified, err = pickGitHubEmail(raw); err != nil {
			return nil, fmt.Errorf("decode %s emails: %w", p.Name, err)
		}
	}
	profile.Email = account.NormalizeEmail(profile.Email)
	return profile, nil
}

func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: url, status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
}

// resolveUser applies the lookup order: existing link, then verified email
// match, then a new account. A lost race on creation is retried once so the
// second caller finds the winner's records.
func (b *Broker) resolveUser(ctx context.Context, p *Provider, profile *Profile, tok *oauth2.Token) (*account.User, bool, error) {
	var lastErr error
	for range 2 {
		u, created, err := b.resolveOnce(ctx, p, profile, tok)
		if err == nil {
			return u, created, nil
		}
		var brokerErr *Error
		if errors.As(err, &brokerErr) || !errors.Is(err, account.ErrConflict) {
			return nil, false, err
		}
		lastErr = err
	}
	return nil, false, ErrUserResolution.with(lastErr)
}

func (b *Broker) resolveOnce(ctx context.Context, p *Provider, profile *Profile, tok *oauth2.Token) (*account.User, bool, error) {
	log := b.logger.With(zap.String("provider", p.Name))
	now := b.now().UTC()

	u, link, err := b.accounts.FindUserByOAuthProvider(ctx, p.Name, profile.ProviderUserID)
	switch {
	case err == nil:
		link.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			link.RefreshToken = tok.RefreshToken
		}
		link.TokenExpiresAt = tok.Expiry
		link.ProfileData = profile.Raw
		link.UpdatedAt = now
		if err := b.accounts.UpsertLink(ctx, link); err != nil {
			return nil, false, ErrUserResolution.with(err)
		}
		return u, false, nil
	case !errors.Is(err, account.ErrNotFound):
		return nil, false, ErrUserResolution.with(err)
	}

	newLink := func(userID string) *account.ProviderLink {
		return &account.ProviderLink{
			UserID:         userID,
			Provider:       p.Name,
			ProviderUserID: profile.ProviderUserID,
			AccessToken:    tok.AccessToken,
			RefreshToken:   tok.RefreshToken,
			TokenExpiresAt: tok.Expiry,
			ProfileData:    profile.Raw,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	existing, err := b.accounts.GetUserByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		if !profile.EmailVerified {
			log.Warn("refusing to link unverified provider email to existing account", zap.String("user_id", existing.ID))
			return nil, false, ErrUnverifiedEmail
		}
		if _, err := b.accounts.GetLink(ctx, existing.ID, p.Name); err == nil {
			return nil, false, ErrLinkConflict
		} else if !errors.Is(err, account.ErrNotFound) {
			return nil, false, ErrUserResolution.with(err)
		}
		if err := b.accounts.UpsertLink(ctx, newLink(existing.ID)); err != nil {
			if errors.Is(err, account.ErrConflict) {
				return nil, false, ErrLinkConflict.with(err)
			}
			return nil, false, ErrUserResolution.with(err)
		}
		log.Warn("provider linked to existing account by email match", zap.String("user_id", existing.ID))
		return existing, false, nil
	case !errors.Is(err, account.ErrNotFound):
		return nil, false, ErrUserResolution.with(err)
	}

	nu := &account.User{
		ID:        uuid.NewString(),
		Username:  usernameFor(profile),
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.accounts.CreateUserWithLink(ctx, nu, newLink(nu.ID)); err != nil {
		if errors.Is(err, account.ErrConflict) {
			return nil, false, err
		}
		return nil, false, ErrUserResolution.with(err)
	}
	log.Info("created account from provider profile", zap.String("user_id", nu.ID))
	return nu, true, nil
}

func usernameFor(p *Profile) string {
	if p.Username != "" {
		return p.Username
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}
