// Package adminapi provides the typed endpoint services of the chatadmin
// backend: authentication, client management, token usage, document/OCR
// uploads, and personas. All network traffic goes through the gateway.
package adminapi

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-chatadmin-client/apierrors"
	"github.com/jrsteele09/go-chatadmin-client/gateway"
	"github.com/jrsteele09/go-chatadmin-client/session"
)

// Endpoint paths for the authentication surfaces. These match the
// gateway's refresh-exempt list: their 401s are expected failures.
const (
	loginPath         = "/auth/login"
	registerPath      = "/auth/register"
	logoutPath        = "/auth/logout"
	passwordResetPath = "/auth/password-reset"
	verifyEmailPath   = "/auth/verify-email"
)

// Credentials are the login inputs.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegistrationData are the signup inputs.
type RegistrationData struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// AuthResult is the outcome of a login or registration attempt. On
// failure, Error carries a single human-readable message drawn from the
// server's structured message, its error field, or the transport error.
type AuthResult struct {
	Success bool          `json:"success"`
	User    *session.User `json:"user,omitempty"`
	Token   string        `json:"token,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// authResponse covers both token field spellings the backend uses for
// login, registration, and refresh responses.
type authResponse struct {
	AccessToken  string        `json:"access_token"`
	Token        string        `json:"token"`
	RefreshToken string        `json:"refresh_token"`
	User         *session.User `json:"user"`
}

func (r *authResponse) accessToken() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// AuthService drives the authentication endpoints and the session
// lifecycle around them.
type AuthService struct {
	gw      *gateway.Gateway
	session *session.Manager
	logger  zerolog.Logger
}

// NewAuthService creates the auth service. The session manager receives
// the started session on successful login or registration.
func NewAuthService(gw *gateway.Gateway, sess *session.Manager, logger zerolog.Logger) *AuthService {
	return &AuthService{gw: gw, session: sess, logger: logger}
}

// Login authenticates and starts a session. API failures are reported in
// the result, not as an error: a wrong password is an expected outcome.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	return s.startSession(ctx, loginPath, creds)
}

// Register signs a new user up and starts a session on success.
func (s *AuthService) Register(ctx context.Context, data RegistrationData) (*AuthResult, error) {
	return s.startSession(ctx, registerPath, data)
}

func (s *AuthService) startSession(ctx context.Context, path string, body any) (*AuthResult, error) {
	var resp authResponse
	if err := s.gw.RequestJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		if apierrors.IsCancelled(err) {
			return nil, err
		}
		s.logger.Debug().Str("path", path).Err(err).Msg("authentication attempt failed")
		return &AuthResult{Success: false, Error: apierrors.Message(err)}, nil
	}

	// A well-formed 2xx without an access token must not start a session
	if resp.accessToken() == "" {
		return &AuthResult{Success: false, Error: "response missing access token"}, nil
	}

	if err := s.session.StartSession(resp.accessToken(), resp.RefreshToken, resp.User); err != nil {
		return nil, err
	}
	return &AuthResult{Success: true, User: s.session.User(), Token: resp.accessToken()}, nil
}

// RequestPasswordReset asks the backend to email a reset link.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	return s.gw.RequestJSON(ctx, http.MethodPost, passwordResetPath, map[string]string{"email": email}, nil)
}

// VerifyEmail confirms an emailed verification code.
func (s *AuthService) VerifyEmail(ctx context.Context, code string) error {
	return s.gw.RequestJSON(ctx, http.MethodPost, verifyEmailPath, map[string]string{"code": code}, nil)
}

// Logout notifies the backend best-effort, then unconditionally clears
// all local session state.
func (s *AuthService) Logout(ctx context.Context) error {
	if _, err := s.gw.Request(ctx, http.MethodPost, logoutPath, nil); err != nil {
		s.logger.Debug().Err(err).Msg("logout notification failed, clearing session anyway")
	}
	s.session.Clear()
	return nil
}
