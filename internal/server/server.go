// Package server exposes the OAuth broker and platform token service over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/logging"
	"github.com/yourorg/badgeauth/internal/middleware"
	"github.com/yourorg/badgeauth/internal/oauth"
	"github.com/yourorg/badgeauth/internal/platformtoken"
	"github.com/yourorg/badgeauth/internal/session"
)

// DefaultFrontendCallback is where browser logins land when no URL is configured.
const DefaultFrontendCallback = "/auth/oauth/callback"

// Tokens is the slice of the platform token service the handlers use.
type Tokens interface {
	GeneratePlatformToken(u *account.User) (string, error)
	VerifyToken(token string) *platformtoken.Claims
	PlatformID() string
	JWKS() platformtoken.JWKSet
}

type Deps struct {
	Broker   *oauth.Broker
	Sessions session.Store
	Accounts account.Repo
	Tokens   Tokens
	Logger   *zap.Logger
	// FrontendCallback receives token, user and redirect_uri after a browser login.
	FrontendCallback string
	// Ping reports backing store health for /health. Optional.
	Ping func(ctx context.Context) error
}

type Server struct {
	broker           *oauth.Broker
	sessions         session.Store
	accounts         account.Repo
	tokens           Tokens
	auth             *middleware.Authenticator
	frontendCallback string
	ping             func(ctx context.Context) error
	logger           *zap.Logger
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		broker:           d.Broker,
		sessions:         d.Sessions,
		accounts:         d.Accounts,
		tokens:           d.Tokens,
		auth:             middleware.NewAuthenticator(d.Tokens, logger.Named("auth")),
		frontendCallback: d.FrontendCallback,
		ping:             d.Ping,
		logger:           logger,
	}
	if s.frontendCallback == "" {
		s.frontendCallback = DefaultFrontendCallback
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(logging.RequestLogger(s.logger.Named("http")))
	r.Use(chimw.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/.well-known/jwks.json", s.JWKS)

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/providers", s.ListProviders)
		r.With(s.auth.RequireAdmin).Post("/cleanup", s.Cleanup)
		r.With(s.auth.RequireSelfOrAdminFromParam("userId")).Get("/user/{userId}/providers", s.UserProviders)

		r.Get("/{provider}", s.InitiateOAuth)
		r.Get("/{provider}/callback", s.OAuthCallback)
		r.With(s.auth.RequireSelfOrAdminFromParam("user_id")).Delete("/{provider}", s.Unlink)
		r.With(s.auth.RequireSelfOrAdminFromParam("user_id")).Post("/{provider}/refresh", s.RefreshProviderToken)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(s.auth.RequireAuth)
		r.Post("/platform-token", s.PlatformToken)
		r.Get("/validate", s.Validate)
	})
	return r
}
