package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-chatadmin-client/apierrors"
	"github.com/jrsteele09/go-chatadmin-client/gateway"
)

const (
	staleToken = "stale-access-token"
	freshToken = "fresh-access-token"
)

// fakeSession implements gateway.Session without real JWTs so the
// recovery protocol can be exercised with arbitrary token strings.
type fakeSession struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	clientID     string
	refreshing   bool
	endedRoutes  []string
}

func (s *fakeSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *fakeSession) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

func (s *fakeSession) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *fakeSession) BeginRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = true
}

func (s *fakeSession) UpdateTokens(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	if refreshToken != "" {
		s.refreshToken = refreshToken
	}
	s.refreshing = false
	return nil
}

func (s *fakeSession) EndSession(attemptedRoute string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = ""
	s.endedRoutes = append(s.endedRoutes, attemptedRoute)
}

func (s *fakeSession) endedWith() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.endedRoutes...)
}

// recordingSleeper captures backoff delays without really waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type fixture struct {
	gw      *gateway.Gateway
	session *fakeSession
	sleeper *recordingSleeper
	server  *httptest.Server
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session := &fakeSession{accessToken: staleToken, refreshToken: "refresh-1", clientID: "client-7"}
	sleeper := &recordingSleeper{}
	gw, err := gateway.New(server.URL, session,
		gateway.WithRefreshCoordinator(gateway.NewRefreshCoordinator()),
		gateway.WithSleeper(sleeper.sleep),
	)
	require.NoError(t, err)
	return &fixture{gw: gw, session: session, sleeper: sleeper, server: server}
}

func TestRequestDecoration(t *testing.T) {
	var got http.Header
	fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, `{"ok":true}`)
	}))

	payload, err := fx.gw.Request(context.Background(), http.MethodPost, "/clients", map[string]string{"name": "acme"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(payload))

	require.Equal(t, "Bearer "+staleToken, got.Get("Authorization"))
	require.Equal(t, "client-7", got.Get("X-Client-ID"))
	require.Equal(t, "application/json", got.Get("Accept"))
	require.Equal(t, "application/json", got.Get("Content-Type"))

	require.True(t, strings.HasPrefix(got.Get("X-Request-ID"), "req-"))
	ts, err := strconv.ParseInt(got.Get("X-Request-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.InDelta(t, time.Now().UnixMilli(), ts, float64(time.Minute.Milliseconds()))
}

func TestSingleRefreshForConcurrent401s(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		require.Equal(t, "Bearer "+staleToken, r.Header.Get("Authorization"))
		time.Sleep(100 * time.Millisecond) // Hold the call open so concurrent 401s pile up behind it
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"refresh-2"}`, freshToken)
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+freshToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":"secret"}`)
	})
	fx := newFixture(t, mux)

	const concurrent = 5
	var wg sync.WaitGroup
	results := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = fx.gw.Request(context.Background(), http.MethodGet, "/protected", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		require.NoError(t, err, "request %d", i)
	}
	require.Equal(t, int32(1), refreshCalls.Load(), "expected a single refresh network call")
	require.Equal(t, freshToken, fx.session.AccessToken())
	require.Equal(t, "refresh-2", fx.session.RefreshToken())
}

func TestSecond401AfterRefreshIsFatal(t *testing.T) {
	var refreshCalls, protectedCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		fmt.Fprintf(w, `{"access_token":%q}`, freshToken)
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		protectedCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	fx := newFixture(t, mux)

	_, err := fx.gw.Request(context.Background(), http.MethodGet, "/protected", nil)
	require.Error(t, err)
	require.Equal(t, apierrors.KindSessionExpired, apierrors.KindOf(err))

	require.Equal(t, int32(1), refreshCalls.Load(), "a second 401 must never trigger a second refresh")
	require.Equal(t, int32(2), protectedCalls.Load())
	require.Equal(t, []string{"/protected"}, fx.session.endedWith())
}

func TestRefreshFailureTearsDownSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/reports/usage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	fx := newFixture(t, mux)

	_, err := fx.gw.Request(context.Background(), http.MethodGet, "/reports/usage", nil)
	require.Error(t, err)
	require.Equal(t, apierrors.KindSessionExpired, apierrors.KindOf(err))
	require.Equal(t, []string{"/reports/usage"}, fx.session.endedWith())
	require.Empty(t, fx.session.AccessToken())

	t.Run("malformed refresh payload is also fatal", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"unexpected":"shape"}`)
		})
		mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		fx := newFixture(t, mux)

		_, err := fx.gw.Request(context.Background(), http.MethodGet, "/protected", nil)
		require.Error(t, err)
		require.Equal(t, apierrors.KindSessionExpired, apierrors.KindOf(err))
	})
}

func TestRateLimitOneShot(t *testing.T) {
	t.Run("429 then 200 succeeds after the Retry-After delay", func(t *testing.T) {
		var calls atomic.Int32
		fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, `{"ok":true}`)
		}))

		payload, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients", nil)
		require.NoError(t, err)
		require.JSONEq(t, `{"ok":true}`, string(payload))
		require.Equal(t, []time.Duration{2 * time.Second}, fx.sleeper.recorded())
	})

	t.Run("429 then 429 surfaces the second response", func(t *testing.T) {
		var calls atomic.Int32
		fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		_, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients", nil)
		require.Error(t, err)
		require.Equal(t, apierrors.KindRateLimited, apierrors.KindOf(err))
		require.Equal(t, int32(2), calls.Load())
		require.Len(t, fx.sleeper.recorded(), 1)
	})

	t.Run("missing Retry-After defaults to one second", func(t *testing.T) {
		var calls atomic.Int32
		fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, `{}`)
		}))

		_, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients", nil)
		require.NoError(t, err)
		require.Equal(t, []time.Duration{time.Second}, fx.sleeper.recorded())
	})
}

func TestServerErrorBoundedBackoff(t *testing.T) {
	t.Run("three 500s fail after exactly two retries", func(t *testing.T) {
		var calls atomic.Int32
		fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
		}))

		_, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients", nil)
		require.Error(t, err)
		require.Equal(t, apierrors.KindServerError, apierrors.KindOf(err))
		require.Equal(t, int32(3), calls.Load(), "expected 3 total attempts")
		require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fx.sleeper.recorded())

		var apiErr *apierrors.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusInternalServerError, apiErr.Status)
		require.Equal(t, "boom", apiErr.Message)
	})

	t.Run("500 then 200 recovers silently", func(t *testing.T) {
		var calls atomic.Int32
		fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"ok":true}`)
		}))

		payload, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients", nil)
		require.NoError(t, err)
		require.JSONEq(t, `{"ok":true}`, string(payload))
	})

	t.Run("network error folds into the server retry path", func(t *testing.T) {
		fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		fx.server.Close() // Requests now fail without a response

		_, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients", nil)
		require.Error(t, err)
		require.Equal(t, apierrors.KindNetwork, apierrors.KindOf(err))
		require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fx.sleeper.recorded())
	})
}

func TestAuthEndpointsExemptFromRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"invalid credentials"}`)
	})
	fx := newFixture(t, mux)

	_, err := fx.gw.Request(context.Background(), http.MethodPost, "/auth/login",
		map[string]string{"username": "jdoe", "password": "wrong"})
	require.Error(t, err)
	require.Equal(t, apierrors.KindAuthExpected, apierrors.KindOf(err))
	require.Equal(t, int32(0), refreshCalls.Load())
	require.Empty(t, fx.session.endedWith(), "an expected auth failure must not tear the session down")

	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "invalid credentials", apiErr.Message)
}

func TestCancellationIsNotFailure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := fx.gw.Request(ctx, http.MethodGet, "/clients", nil)
		errCh <- err
	}()

	<-started
	cancel()

	err := <-errCh
	require.Error(t, err)
	require.Equal(t, apierrors.KindCancelled, apierrors.KindOf(err))
	require.True(t, apierrors.IsCancelled(err))
	require.Empty(t, fx.sleeper.recorded(), "cancellation must not enter the recovery paths")
	require.Empty(t, fx.session.endedWith())
}

func TestWaitersSurviveInitiatorCancel(t *testing.T) {
	var refreshEntered atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if refreshEntered.Add(1) == 1 {
			close(entered)
		}
		<-release
		fmt.Fprintf(w, `{"access_token":%q}`, freshToken)
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+freshToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":"secret"}`)
	})
	fx := newFixture(t, mux)

	initiatorCtx, cancelInitiator := context.WithCancel(context.Background())
	initiatorErr := make(chan error, 1)
	go func() {
		_, err := fx.gw.Request(initiatorCtx, http.MethodGet, "/protected", nil)
		initiatorErr <- err
	}()
	<-entered // The first caller now owns the in-flight refresh

	waiterErr := make(chan error, 1)
	go func() {
		_, err := fx.gw.Request(context.Background(), http.MethodGet, "/protected", nil)
		waiterErr <- err
	}()

	cancelInitiator()
	err := <-initiatorErr
	require.Error(t, err)
	require.Equal(t, apierrors.KindCancelled, apierrors.KindOf(err))

	close(release)
	require.NoError(t, <-waiterErr, "a caller that never cancelled must get the shared refresh result")
	require.Equal(t, freshToken, fx.session.AccessToken())
	require.Empty(t, fx.session.endedWith(), "another caller's abort must not tear the session down")
}

func TestDefaultTimeoutConfigurable(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)

	session := &fakeSession{accessToken: staleToken}
	sleeper := &recordingSleeper{}
	gw, err := gateway.New(server.URL, session,
		gateway.WithDefaultTimeout(30*time.Millisecond),
		gateway.WithSleeper(sleeper.sleep),
	)
	require.NoError(t, err)

	_, err = gw.Request(context.Background(), http.MethodGet, "/clients", nil)
	require.Error(t, err)
	require.Equal(t, apierrors.KindNetwork, apierrors.KindOf(err), "an attempt deadline is a timeout, not an abort")
	require.Equal(t, int32(3), calls.Load(), "each attempt gets the configured timeout")
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.recorded())
}

func TestClientErrorsPropagateImmediately(t *testing.T) {
	var calls atomic.Int32
	fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no such client"}`)
	}))

	_, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients/missing", nil)
	require.Error(t, err)
	require.Equal(t, apierrors.KindClientError, apierrors.KindOf(err))
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, fx.sleeper.recorded())

	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "no such client", apiErr.Message)
	require.JSONEq(t, `{"error":"no such client"}`, string(apiErr.Payload))
}

// Scenario: a call made with an expiring token gets a 401, the gateway
// refreshes, and the caller sees the original 200 payload with no error.
func TestTransparentRefreshReturnsOriginalPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"access_token":%q}`, freshToken)
	})
	mux.HandleFunc("/dashboard/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+freshToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"conversations":128,"tokens_used":90210}`)
	})
	fx := newFixture(t, mux)

	var out struct {
		Conversations int `json:"conversations"`
		TokensUsed    int `json:"tokens_used"`
	}
	err := fx.gw.RequestJSON(context.Background(), http.MethodGet, "/dashboard/summary", nil, &out)
	require.NoError(t, err)
	require.Equal(t, 128, out.Conversations)
	require.Equal(t, 90210, out.TokensUsed)
	require.Equal(t, freshToken, fx.session.AccessToken())
}

func TestMultipartBodySkipsJSONContentType(t *testing.T) {
	var contentType string
	fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{}`)
	}))

	body := strings.NewReader("--boundary--")
	_, err := fx.gw.Request(context.Background(), http.MethodPost, "/documents", nil,
		gateway.WithRawBody(body, "multipart/form-data; boundary=boundary"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data; boundary=boundary", contentType)
}

func TestQueryParamsEncoded(t *testing.T) {
	var query string
	fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		fmt.Fprint(w, `{}`)
	}))

	_, err := fx.gw.Request(context.Background(), http.MethodGet, "/clients", nil,
		gateway.WithQueryParam("page", "2"),
		gateway.WithQueryParam("per_page", "50"),
		gateway.WithQueryParam("search", "ac me"))
	require.NoError(t, err)

	parsed, err := url.ParseQuery(query)
	require.NoError(t, err)
	require.Equal(t, "2", parsed.Get("page"))
	require.Equal(t, "50", parsed.Get("per_page"))
	require.Equal(t, "ac me", parsed.Get("search"))
}
