// Package gateway is the single choke point for every outbound call to
// the chatadmin backend. It decorates requests with identity and
// correlation headers and runs a three-tier failure-recovery protocol:
// auth refresh on 401, one-shot rate-limit backoff on 429, and bounded
// exponential backoff on 5xx or missing responses.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-chatadmin-client/apierrors"
	clienterrors "github.com/jrsteele09/go-chatadmin-client/internal/errors"
)

// Header names attached to every outbound request.
const (
	headerAuthorization = "Authorization"
	headerClientID      = "X-Client-ID"
	headerTimestamp     = "X-Request-Timestamp"
	headerCorrelationID = "X-Request-ID"
	headerRetryAfter    = "Retry-After"
)

// DefaultTimeout is deliberately long: some payloads are large file
// uploads, so the transport timeout is minutes, not seconds.
const DefaultTimeout = 5 * time.Minute

// defaultRefreshPath is the backend endpoint that exchanges a stale
// access token for a fresh one.
const defaultRefreshPath = "/auth/refresh"

// defaultAuthPaths are endpoints whose 401s are expected user-facing
// failures (bad password, unverified email) rather than session expiry.
// They never trigger the refresh protocol.
var defaultAuthPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/password-reset",
	"/auth/verify-email",
	defaultRefreshPath,
}

// Session is the narrow view of the session manager the gateway needs.
// The gateway never touches credential state directly; all mutation goes
// through these methods.
type Session interface {
	AccessToken() string
	RefreshToken() string
	ClientID() string
	BeginRefresh()
	UpdateTokens(accessToken, refreshToken string) error
	EndSession(attemptedRoute string)
}

// sleepFunc waits for d or until ctx is cancelled.
type sleepFunc func(ctx context.Context, d time.Duration) error

// Gateway wraps an HTTP client with the recovery protocol. Create one per
// backend and share it between services.
type Gateway struct {
	baseURL     *url.URL
	httpClient  *http.Client
	session     Session
	coordinator *RefreshCoordinator
	refreshPath    string
	authPaths      []string
	defaultTimeout time.Duration
	logger         zerolog.Logger
	sleep          sleepFunc
	nowTime        func() time.Time
}

// GatewayOption modifies the Gateway at construction time.
type GatewayOption func(*Gateway)

// WithHTTPClient sets the underlying transport. Pass a client sharing the
// session manager's cookie jar so the mirrored token cookie travels with
// requests from embedded surfaces.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) { g.httpClient = client }
}

// WithRefreshCoordinator injects the coordinator, letting tests reset it
// between scenarios.
func WithRefreshCoordinator(c *RefreshCoordinator) GatewayOption {
	return func(g *Gateway) { g.coordinator = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// WithAuthPaths overrides the endpoints exempt from the refresh protocol.
func WithAuthPaths(paths ...string) GatewayOption {
	return func(g *Gateway) { g.authPaths = paths }
}

// WithRefreshPath overrides the token refresh endpoint.
func WithRefreshPath(path string) GatewayOption {
	return func(g *Gateway) { g.refreshPath = path }
}

// WithDefaultTimeout overrides the per-attempt timeout applied to
// requests that carry no explicit timeout of their own. Non-positive
// values are ignored.
func WithDefaultTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.defaultTimeout = d
		}
	}
}

// WithSleeper sets the backoff sleep function (primarily for testing)
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) GatewayOption {
	return func(g *Gateway) { g.sleep = sleep }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) GatewayOption {
	return func(g *Gateway) { g.nowTime = nowFunc }
}

// New creates a gateway for the given backend base URL.
func New(baseURL string, sess Session, opts ...GatewayOption) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base URL")
	}

	g := &Gateway{
		baseURL:        u,
		httpClient:     &http.Client{},
		session:        sess,
		coordinator:    NewRefreshCoordinator(),
		refreshPath:    defaultRefreshPath,
		authPaths:      defaultAuthPaths,
		defaultTimeout: DefaultTimeout,
		logger:         zerolog.Nop(),
		sleep:          sleepWithContext,
		nowTime:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request dispatches a call and returns the raw response payload, running
// the recovery protocol on failures. body is JSON-marshalled unless a
// RawBody request option replaces it. Errors are always *apierrors.Error.
func (g *Gateway) Request(ctx context.Context, method, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	spec, err := g.newRequestSpec(method, path, body, opts...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindClientError, err)
	}
	return g.execute(ctx, spec)
}

// RequestJSON dispatches a call and decodes the response payload into out.
// A nil out discards the payload.
func (g *Gateway) RequestJSON(ctx context.Context, method, path string, body any, out any, opts ...RequestOption) error {
	payload, err := g.Request(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return apierrors.Wrap(apierrors.KindClientError, errors.Wrap(err, "decode response payload"))
	}
	return nil
}

// execute runs the retry loop. The AttemptState value lives on this
// stack frame only, so recovery budgets can never leak across requests.
func (g *Gateway) execute(ctx context.Context, spec *requestSpec) (json.RawMessage, error) {
	var attempt AttemptState

	for {
		status, payload, header, err := g.send(ctx, spec, attempt)

		if err != nil {
			if cancelled(ctx) {
				return nil, apierrors.Wrap(apierrors.KindCancelled, clienterrors.ErrRequestCancelled)
			}
			// No response at all: folded into the bounded server-retry path
			if attempt.ServerRetries < maxServerRetries {
				delay := serverBackoff(attempt.ServerRetries)
				attempt.ServerRetries++
				g.logger.Warn().Str("correlation_id", spec.correlationID).Err(err).
					Dur("backoff", delay).Int("retry", attempt.ServerRetries).Msg("network error, retrying")
				if waitErr := g.recoveryWait(ctx, delay); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, apierrors.Wrap(apierrors.KindNetwork, err)
		}

		if status < http.StatusBadRequest {
			return payload, nil
		}

		// Recovery paths, checked in strict order: refresh, rate limit,
		// server backoff. Each is bounded by its own field of attempt.
		switch {
		case status == http.StatusUnauthorized && !spec.authEndpoint && !attempt.RefreshTried:
			attempt.RefreshTried = true
			if err := g.refreshSession(ctx); err != nil {
				if cancelled(ctx) {
					return nil, apierrors.Wrap(apierrors.KindCancelled, clienterrors.ErrRequestCancelled)
				}
				g.session.EndSession(spec.path)
				return nil, apierrors.New(apierrors.KindSessionExpired,
					clienterrors.ErrRefreshFailed.Error(), status, payload)
			}
			continue

		case status == http.StatusTooManyRequests && !attempt.RateLimitTried:
			attempt.RateLimitTried = true
			delay := retryAfterDelay(header)
			g.logger.Warn().Str("correlation_id", spec.correlationID).
				Dur("retry_after", delay).Msg("rate limited, retrying once")
			if waitErr := g.recoveryWait(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			continue

		case status >= http.StatusInternalServerError && attempt.ServerRetries < maxServerRetries:
			delay := serverBackoff(attempt.ServerRetries)
			attempt.ServerRetries++
			g.logger.Warn().Str("correlation_id", spec.correlationID).Int("status", status).
				Dur("backoff", delay).Int("retry", attempt.ServerRetries).Msg("server error, retrying")
			if waitErr := g.recoveryWait(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			continue

		default:
			if status == http.StatusUnauthorized && !spec.authEndpoint {
				// A second 401 after a successful refresh is fatal, never
				// another refresh attempt.
				g.session.EndSession(spec.path)
			}
			return nil, apierrors.FromResponse(status, payload, spec.authEndpoint)
		}
	}
}

// send performs one attempt: build, decorate, dispatch, read. A
// per-request timeout applies to each attempt individually, so a timed
// out attempt still leaves room for its retries.
func (g *Gateway) send(ctx context.Context, spec *requestSpec, attempt AttemptState) (int, []byte, http.Header, error) {
	timeout := spec.timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := g.buildHTTPRequest(ctx, spec)
	if err != nil {
		return 0, nil, nil, err
	}

	start := g.nowTime()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	g.logger.Debug().
		Str("correlation_id", spec.correlationID).
		Str("method", spec.method).
		Str("path", spec.path).
		Int("status", resp.StatusCode).
		Bool("refresh_tried", attempt.RefreshTried).
		Int("server_retries", attempt.ServerRetries).
		Dur("latency", time.Since(start)).
		Msg("request completed")

	return resp.StatusCode, payload, resp.Header, nil
}

// buildHTTPRequest constructs a fresh request for each attempt so a
// post-refresh resubmission carries the new bearer token.
func (g *Gateway) buildHTTPRequest(ctx context.Context, spec *requestSpec) (*http.Request, error) {
	u := g.baseURL.JoinPath(spec.path)
	if len(spec.query) > 0 {
		u.RawQuery = spec.query.Encode()
	}

	var bodyReader io.Reader
	if spec.body != nil {
		bodyReader = bytes.NewReader(spec.body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, u.String(), bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	req.Header.Set("Accept", "application/json")
	if spec.contentType != "" {
		req.Header.Set("Content-Type", spec.contentType)
	}
	// Multipart and binary payloads leave Content-Type to the transport
	// so the boundary survives.

	if tok := g.session.AccessToken(); tok != "" {
		req.Header.Set(headerAuthorization, "Bearer "+tok)
	}
	if clientID := g.session.ClientID(); clientID != "" {
		req.Header.Set(headerClientID, clientID)
	}
	req.Header.Set(headerTimestamp, strconv.FormatInt(g.nowTime().UnixMilli(), 10))
	req.Header.Set(headerCorrelationID, spec.correlationID)

	for k, v := range spec.header {
		req.Header[k] = v
	}
	return req, nil
}

// refreshSession exchanges the current (possibly expired) access token
// for a new one. Concurrent callers share a single network call through
// the coordinator.
func (g *Gateway) refreshSession(ctx context.Context) error {
	stale := g.session.AccessToken()
	if stale == "" {
		return clienterrors.ErrNoAccessToken
	}

	g.session.BeginRefresh()
	creds, err := g.coordinator.Refresh(ctx, stale, g.callRefreshEndpoint)
	if err != nil {
		return clienterrors.Wrapf(err, "refresh call")
	}
	if err := g.session.UpdateTokens(creds.AccessToken, creds.RefreshToken); err != nil {
		return clienterrors.Wrapf(err, "install refreshed tokens")
	}
	g.logger.Debug().Msg("access token refreshed")
	return nil
}

// refreshResponse covers both token field spellings the backend uses.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// callRefreshEndpoint issues the actual refresh request, outside the
// recovery protocol: a failed refresh is fatal, never retried.
func (g *Gateway) callRefreshEndpoint(ctx context.Context) (Credentials, error) {
	reqBody := map[string]string{}
	if rt := g.session.RefreshToken(); rt != "" {
		reqBody["refresh_token"] = rt
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "marshal refresh body")
	}

	u := g.baseURL.JoinPath(g.refreshPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return Credentials{}, errors.Wrap(err, "build refresh request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	// The stale access token is the refresh credential
	req.Header.Set(headerAuthorization, "Bearer "+g.session.AccessToken())
	req.Header.Set(headerCorrelationID, newCorrelationID(g.nowTime()))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "refresh request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "read refresh response")
	}
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Credentials{}, errors.Wrap(err, "malformed refresh response")
	}
	accessToken := parsed.AccessToken
	if accessToken == "" {
		accessToken = parsed.Token
	}
	if accessToken == "" {
		return Credentials{}, clienterrors.ErrMissingToken
	}
	return Credentials{AccessToken: accessToken, RefreshToken: parsed.RefreshToken}, nil
}

// recoveryWait sleeps before a retry. A caller-initiated cancel aborts
// the request; a deadline expiring mid-backoff is a timeout and surfaces
// like any other network failure.
func (g *Gateway) recoveryWait(ctx context.Context, d time.Duration) *apierrors.Error {
	err := g.sleep(ctx, d)
	if err == nil {
		return nil
	}
	if cancelled(ctx) {
		return apierrors.Wrap(apierrors.KindCancelled, clienterrors.ErrRequestCancelled)
	}
	return apierrors.Wrap(apierrors.KindNetwork, err)
}

// retryAfterDelay reads the Retry-After header in seconds, defaulting to
// one second when absent or unparseable.
func retryAfterDelay(header http.Header) time.Duration {
	raw := header.Get(headerRetryAfter)
	if raw == "" {
		return defaultRetryAfterWait
	}
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs < 0 {
		return defaultRetryAfterWait
	}
	return time.Duration(secs) * time.Second
}

// cancelled reports whether the requester's own context was cancelled.
// Only the caller's explicit abort counts: a per-attempt deadline is a
// timeout that retries like a network failure, and a context.Canceled
// in an error chain may belong to another caller sharing a refresh
// flight, whose abort says nothing about this request.
func cancelled(ctx context.Context) bool {
	return ctx.Err() == context.Canceled
}

func newCorrelationID(now time.Time) string {
	return fmt.Sprintf("req-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
