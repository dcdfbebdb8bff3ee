package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerBackoff(t *testing.T) {
	require.Equal(t, time.Second, serverBackoff(0))
	require.Equal(t, 2*time.Second, serverBackoff(1))
	require.Equal(t, 4*time.Second, serverBackoff(2))
	// Capped at 5s from the third retry onwards
	require.Equal(t, 5*time.Second, serverBackoff(3))
	require.Equal(t, 5*time.Second, serverBackoff(10))
}

func TestRetryAfterDelay(t *testing.T) {
	mk := func(value string) http.Header {
		h := http.Header{}
		if value != "" {
			h.Set(headerRetryAfter, value)
		}
		return h
	}

	require.Equal(t, 3*time.Second, retryAfterDelay(mk("3")))
	require.Equal(t, time.Second, retryAfterDelay(mk("")))
	require.Equal(t, time.Second, retryAfterDelay(mk("soon")))
	require.Equal(t, time.Second, retryAfterDelay(mk("-5")))
}

func TestIsAuthPath(t *testing.T) {
	g := &Gateway{authPaths: defaultAuthPaths}

	require.True(t, g.isAuthPath("/auth/login"))
	require.True(t, g.isAuthPath("/auth/register"))
	require.True(t, g.isAuthPath("/auth/password-reset"))
	require.True(t, g.isAuthPath("/auth/password-reset/confirm"))
	require.True(t, g.isAuthPath("/auth/refresh"))
	require.False(t, g.isAuthPath("/auth/loginhistory"))
	require.False(t, g.isAuthPath("/clients"))
}
