package oauth

import "net/http"

// Error is a broker failure with the HTTP status and stable message the
// caller should surface. The wrapped cause is for logs only.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on status and message so wrapped copies compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Status == e.Status && t.Message == e.Message
}

func (e *Error) with(err error) *Error {
	return &Error{Status: e.Status, Message: e.Message, Err: err}
}

func newError(status int, msg string) *Error {
	return &Error{Status: status, Message: msg}
}

var (
	ErrUnsupportedProvider   = newError(http.StatusBadRequest, "Unsupported OAuth provider")
	ErrProviderNotConfigured = newError(http.StatusInternalServerError, "OAuth provider is not configured")
	ErrInvalidRedirectURI    = newError(http.StatusBadRequest, "Invalid redirect_uri")
	ErrSessionStore          = newError(http.StatusInternalServerError, "OAuth session storage failed")

	ErrProviderError      = newError(http.StatusBadRequest, "OAuth provider returned an error")
	ErrMissingCodeOrState = newError(http.StatusBadRequest, "Missing authorization code or state")
	ErrInvalidStateFormat = newError(http.StatusBadRequest, "Invalid OAuth state")
	ErrInvalidSession     = newError(http.StatusBadRequest, "Invalid or expired OAuth session")
	ErrProviderMismatch   = newError(http.StatusBadRequest, "OAuth session belongs to a different provider")
	ErrSessionUsed        = newError(http.StatusConflict, "Session has already been used")
	ErrTokenExchange      = newError(http.StatusInternalServerError, "Failed to exchange authorization code")
	ErrProfileFetch       = newError(http.StatusInternalServerError, "Failed to fetch provider profile")
	ErrMissingEmail       = newError(http.StatusBadRequest, "OAuth provider did not return an email address")
	ErrUnverifiedEmail    = newError(http.StatusConflict, "An account with this email already exists; sign in with your linked method first")
	ErrLinkConflict       = newError(http.StatusConflict, "Account is already linked to a different identity for this provider")
	ErrUserResolution     = newError(http.StatusInternalServerError, "Failed to resolve user account")
	ErrTokenIssue         = newError(http.StatusInternalServerError, "Failed to issue platform token")

	ErrMissingUserID      = newError(http.StatusBadRequest, "user_id is required")
	ErrLinkNotFound       = newError(http.StatusNotFound, "Provider is not linked")
	ErrRefreshUnsupported = newError(http.StatusBadRequest, "Provider does not support token refresh")
	ErrNoRefreshToken     = newError(http.StatusBadRequest, "No refresh token stored for provider")
	ErrTokenRefresh       = newError(http.StatusInternalServerError, "Failed to refresh provider token")
	ErrLinkStore          = newError(http.StatusInternalServerError, "Provider link storage failed")
)
