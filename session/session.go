// Package session is the single source of truth for the current
// credential and identity. It owns all shared mutable auth state; the
// gateway reads and mutates it only through the methods here.
package session

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	clienterrors "github.com/jrsteele09/go-chatadmin-client/internal/errors"
	"github.com/jrsteele09/go-chatadmin-client/token"
)

// Status describes where the session is in its lifecycle.
type Status string

const (
	StatusAnonymous     Status = "anonymous"     // No valid token or user
	StatusAuthenticated Status = "authenticated" // Valid token and user present
	StatusRefreshing    Status = "refreshing"    // A 401-triggered refresh is in progress
)

const (
	// authTokenCookie mirrors the access token for embedded widgets that
	// read it cross-frame.
	authTokenCookie = "chatadmin_token"

	// cookieMaxAge is the fixed multi-day lifetime of the mirrored cookie.
	cookieMaxAge = 7 * 24 * time.Hour
)

// ExpiredHandler is invoked after an irrecoverable auth failure tears the
// session down. attemptedRoute is the request path that triggered the
// failure, recorded for post-login restoration.
type ExpiredHandler func(attemptedRoute string)

// Manager holds the current credentials and user identity, persists them
// through a Store, and mirrors the access token into a cookie jar shared
// with the gateway's HTTP client.
type Manager struct {
	lock           sync.Mutex
	creds          *oauth2.Token
	user           *User
	status         Status
	attemptedRoute string

	store     Store
	jar       http.CookieJar
	baseURL   *url.URL
	onExpired ExpiredHandler
	logger    zerolog.Logger
	nowTime   func() time.Time
}

// Option modifies the Manager at construction time.
type Option func(*Manager)

// WithStore sets the durable store used to survive restarts.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithCookieJar sets the jar the access token is mirrored into. Pass the
// same jar to the gateway's HTTP client.
func WithCookieJar(jar http.CookieJar) Option {
	return func(m *Manager) { m.jar = jar }
}

// WithExpiredHandler registers the callback fired on fatal session
// failure, the SDK equivalent of a redirect to the login surface.
func WithExpiredHandler(h ExpiredHandler) Option {
	return func(m *Manager) { m.onExpired = h }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) { m.nowTime = nowFunc }
}

// NewManager creates a session manager scoped to the given API base URL.
// If a store is configured, any persisted session is loaded so a restart
// does not log the user out.
func NewManager(baseURL string, opts ...Option) (*Manager, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base URL")
	}

	m := &Manager{
		baseURL: u,
		status:  StatusAnonymous,
		logger:  zerolog.Nop(),
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store != nil {
		state, err := m.store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "load persisted session")
		}
		if state != nil {
			m.creds = state.Credentials()
			m.user = state.User
			if m.isAuthenticatedLocked() {
				m.status = StatusAuthenticated
				m.mirrorCookie(state.AccessToken)
			}
		}
	}
	return m, nil
}

// SetCredentials stores the access and refresh tokens, mirrors the access
// token into the cookie jar, and persists the session.
func (m *Manager) SetCredentials(accessToken, refreshToken string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	expiry, err := token.ExpiresAt(accessToken)
	if err != nil {
		return clienterrors.Wrapf(err, "decode access token expiry")
	}
	m.creds = &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
	m.mirrorCookie(accessToken)
	return m.persistLocked()
}

// SetUser stores the denormalized identity and persists the session.
func (m *Manager) SetUser(user *User) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.user = user
	return m.persistLocked()
}

// User returns the current identity, or nil when anonymous.
func (m *Manager) User() *User {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.user
}

// AccessToken returns the current bearer token, or "" when none is held.
func (m *Manager) AccessToken() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.AccessToken
}

// RefreshToken returns the secondary credential, or "" when none is held.
func (m *Manager) RefreshToken() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.RefreshToken
}

// ClientID returns the tenant client the authenticated user belongs to,
// or "" when anonymous. Drives the gateway's tenant scoping header.
func (m *Manager) ClientID() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.user == nil {
		return ""
	}
	return m.user.ClientID
}

// Credentials returns the held tokens as a standard oauth2 token.
func (m *Manager) Credentials() *oauth2.Token {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.creds == nil {
		return nil
	}
	copied := *m.creds
	return &copied
}

// IsAuthenticated reports whether the access token decodes with a future
// expiry (beyond the skew buffer) and a user identity is present.
func (m *Manager) IsAuthenticated() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.isAuthenticatedLocked()
}

func (m *Manager) isAuthenticatedLocked() bool {
	return m.creds != nil && token.IsValid(m.creds.AccessToken) && m.user != nil
}

// Status returns the session's lifecycle state.
func (m *Manager) Status() Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.status
}

// StartSession installs the tokens and user from a successful login or
// registration. When the response carried no user object, identity is
// derived from the access token's claims.
func (m *Manager) StartSession(accessToken, refreshToken string, user *User) error {
	if accessToken == "" {
		return clienterrors.ErrMissingToken
	}
	if user == nil {
		derived, err := DeriveUserFromToken(accessToken)
		if err != nil {
			return clienterrors.Wrapf(err, "derive user from token")
		}
		user = derived
	}

	if err := m.SetCredentials(accessToken, refreshToken); err != nil {
		return err
	}
	if err := m.SetUser(user); err != nil {
		return err
	}

	m.lock.Lock()
	m.status = StatusAuthenticated
	m.attemptedRoute = ""
	m.lock.Unlock()

	m.logger.Debug().Str("user_id", user.ID).Str("client_id", user.ClientID).Msg("session started")
	return nil
}

// BeginRefresh marks the session as refreshing. Called by the gateway
// when a 401 triggers the refresh protocol.
func (m *Manager) BeginRefresh() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.status = StatusRefreshing
}

// UpdateTokens installs tokens obtained from a successful refresh and
// returns the session to the authenticated state. An empty refreshToken
// keeps the previously held one.
func (m *Manager) UpdateTokens(accessToken, refreshToken string) error {
	if refreshToken == "" {
		refreshToken = m.RefreshToken()
	}
	if err := m.SetCredentials(accessToken, refreshToken); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.user == nil {
		if derived, err := DeriveUserFromToken(accessToken); err == nil {
			m.user = derived
		}
	}
	m.status = StatusAuthenticated
	return nil
}

// EndSession clears all session state after an irrecoverable auth
// failure, recording attemptedRoute for post-login restoration, and
// fires the expired handler.
func (m *Manager) EndSession(attemptedRoute string) {
	m.lock.Lock()
	m.clearLocked()
	m.attemptedRoute = attemptedRoute
	handler := m.onExpired
	m.lock.Unlock()

	m.logger.Warn().Str("attempted_route", attemptedRoute).Msg("session ended after auth failure")
	if handler != nil {
		handler(attemptedRoute)
	}
}

// Clear removes all session state. Used by logout.
func (m *Manager) Clear() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clearLocked()
	m.attemptedRoute = ""
}

func (m *Manager) clearLocked() {
	m.creds = nil
	m.user = nil
	m.status = StatusAnonymous
	m.expireCookie()
	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.logger.Warn().Err(err).Msg("failed to clear persisted session")
		}
	}
}

// AttemptedRoute returns the path recorded at the last fatal session
// failure, clearing it so the restoration happens once.
func (m *Manager) AttemptedRoute() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	route := m.attemptedRoute
	m.attemptedRoute = ""
	return route
}

func (m *Manager) persistLocked() error {
	if m.store == nil {
		return nil
	}
	state := &State{User: m.user}
	if m.creds != nil {
		state.AccessToken = m.creds.AccessToken
		state.RefreshToken = m.creds.RefreshToken
		state.TokenExpiry = m.creds.Expiry
	}
	return m.store.Save(state)
}

func (m *Manager) mirrorCookie(accessToken string) {
	if m.jar == nil {
		return
	}
	m.jar.SetCookies(m.baseURL, []*http.Cookie{{
		Name:     authTokenCookie,
		Value:    accessToken,
		Path:     "/",
		Secure:   m.baseURL.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
		Expires:  m.nowTime().Add(cookieMaxAge),
		MaxAge:   int(cookieMaxAge / time.Second),
	}})
}

func (m *Manager) expireCookie() {
	if m.jar == nil {
		return
	}
	// An immediately expired cookie removes the mirrored token from the jar
	m.jar.SetCookies(m.baseURL, []*http.Cookie{{
		Name:     authTokenCookie,
		Value:    "",
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  m.nowTime().Add(-time.Hour),
		MaxAge:   -1,
	}})
}
