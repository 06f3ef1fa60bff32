package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/middleware"
	"github.com/yourorg/badgeauth/internal/oauth"
	"github.com/yourorg/badgeauth/internal/respond"
	"github.com/yourorg/badgeauth/internal/session"
)

// fail maps broker errors to their status; anything else is a 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var be *oauth.Error
	if errors.As(err, &be) {
		if be.Status >= http.StatusInternalServerError {
			s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		respond.Error(w, be.Status, be.Message)
		return
	}
	s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	respond.Error(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			respond.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	respond.JSON(w, http.StatusOK, s.tokens.JWKS())
}

func (s *Server) ListProviders(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "providers": s.broker.Providers()})
}

// InitiateOAuth returns the authorization URL instead of redirecting so the
// client decides how to send the browser there.
func (s *Server) InitiateOAuth(w http.ResponseWriter, r *http.Request) {
	auth, err := s.broker.Initiate(r.Context(), chi.URLParam(r, "provider"), r.URL.Query().Get("redirect_uri"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "authUrl": auth.URL, "state": auth.State})
}

// OAuthCallback answers with JSON when the client asks for it and otherwise
// redirects to the frontend callback page. Failures are always JSON.
func (s *Server) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.broker.Callback(r.Context(), oauth.CallbackRequest{
		Provider:         chi.URLParam(r, "provider"),
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if wantsJSON(r) {
		respond.JSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"user":        res.User,
			"token":       res.Token,
			"redirectUri": res.RedirectURI,
		})
		return
	}

	target, err := s.frontendRedirect(res)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (s *Server) frontendRedirect(res *oauth.CallbackResult) (string, error) {
	u, err := url.Parse(s.frontendCallback)
	if err != nil {
		return "", fmt.Errorf("parse frontend callback url: %w", err)
	}
	user, err := json.Marshal(res.User)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("success", "true")
	q.Set("token", res.Token)
	q.Set("user", string(user))
	q.Set("redirect_uri", res.RedirectURI)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Server) Unlink(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if _, err := s.broker.Unlink(r.Context(), r.URL.Query().Get("user_id"), provider); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("%s account unlinked", strings.ToLower(provider)),
	})
}

func (s *Server) RefreshProviderToken(w http.ResponseWriter, r *http.Request) {
	link, err := s.broker.Refresh(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "provider"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var expiresAt *time.Time
	if !link.TokenExpiresAt.IsZero() {
		expiresAt = &link.TokenExpiresAt
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"provider":         link.Provider,
		"token_expires_at": expiresAt,
	})
}

func (s *Server) UserProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.broker.LinkedProviders(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "providers": providers})
}

func (s *Server) Cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := session.Sweep(r.Context(), s.sessions)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "expired": res.Expired, "used": res.Used})
}

// PlatformToken mints a token for the user named in the body. Claims come
// from the stored account, never from the request body.
func (s *Server) PlatformToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User *struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.User == nil || body.User.ID == "" || body.User.Email == "" {
		respond.Error(w, http.StatusBadRequest, "User id and email are required")
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if !claims.Metadata.IsAdmin && claims.Subject != body.User.ID {
		respond.Error(w, http.StatusForbidden, "Access denied")
		return
	}

	user, err := s.accounts.GetUserByID(r.Context(), body.User.ID)
	if errors.Is(err, account.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.tokens.GeneratePlatformToken(user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "token": token, "platformId": s.tokens.PlatformID()})
}

func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "payload": middleware.ClaimsFromContext(r.Context())})
}
