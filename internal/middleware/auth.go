// Package middleware holds the bearer-token gates placed in front of protected routes.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yourorg/badgeauth/internal/platformtoken"
	"github.com/yourorg/badgeauth/internal/respond"
)

type contextKey string

const claimsKey = contextKey("platform-claims")

// Verifier validates a platform token, returning nil when it is not acceptable.
type Verifier interface {
	VerifyToken(token string) *platformtoken.Claims
}

// Authenticator builds authorization middleware around a Verifier.
// 401 means the caller is not authenticated; 403 means authenticated but not allowed.
type Authenticator struct {
	verifier Verifier
	logger   *zap.Logger
}

func NewAuthenticator(v Verifier, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{verifier: v, logger: logger}
}

// ClaimsFromContext returns the claims stored by RequireAuth, or nil.
func ClaimsFromContext(ctx context.Context) *platformtoken.Claims {
	c, _ := ctx.Value(claimsKey).(*platformtoken.Claims)
	return c
}

// WithClaims stores c in ctx the way RequireAuth does.
func WithClaims(ctx context.Context, c *platformtoken.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// authenticate reuses claims placed by an outer RequireAuth.
func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request) (*platformtoken.Claims, *http.Request, bool) {
	if c := ClaimsFromContext(r.Context()); c != nil {
		return c, r, true
	}
	token, ok := BearerToken(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Authentication required")
		return nil, nil, false
	}
	claims := a.verifier.VerifyToken(token)
	if claims == nil {
		a.logger.Debug("rejected bearer token", zap.String("path", r.URL.Path))
		respond.Error(w, http.StatusUnauthorized, "Invalid or expired token")
		return nil, nil, false
	}
	return claims, r.WithContext(WithClaims(r.Context(), claims)), true
}

// RequireAuth admits any request carrying a valid platform token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, r, ok := a.authenticate(w, r); ok {
			next.ServeHTTP(w, r)
		}
	})
}

// RequireAdmin additionally requires metadata.isAdmin to be true.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, r, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		if !claims.Metadata.IsAdmin {
			respond.Error(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSelfOrAdminFromParam admits the user named by param, or an admin.
// param is read from the chi route first and the query string second, so the
// middleware must run after routing (chi's With or inside a Route).
func (a *Authenticator) RequireSelfOrAdminFromParam(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, r, ok := a.authenticate(w, r)
			if !ok {
				return
			}
			target := chi.URLParam(r, param)
			if target == "" {
				target = r.URL.Query().Get(param)
			}
			if claims.Metadata.IsAdmin || (target != "" && target == claims.Subject) {
				next.ServeHTTP(w, r)
				return
			}
			respond.Error(w, http.StatusForbidden, "Access denied")
		})
	}
}
