package gateway

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshCallTimeout bounds the shared refresh call, which runs detached
// from any individual caller's context.
const refreshCallTimeout = 30 * time.Second

// Credentials is the result of a refresh call: a new access token and,
// when the backend rotates it, a new refresh token.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// RefreshCoordinator guarantees that at most one refresh network call is
// outstanding at any time. Concurrent requests that hit a 401 with the
// same stale token share the single in-flight call and all resume with
// its result. It is owned by the composition root and injected into the
// gateway so tests can swap in a fresh instance.
type RefreshCoordinator struct {
	group singleflight.Group
}

// NewRefreshCoordinator creates a coordinator with no in-flight call.
func NewRefreshCoordinator() *RefreshCoordinator {
	return &RefreshCoordinator{}
}

// Refresh runs fn unless a refresh for the same stale token is already in
// flight, in which case the caller waits for the shared result. The stale
// token is the key: once it has been exchanged, a later 401 bearing the
// new token starts a new refresh rather than reusing a stale result.
func (c *RefreshCoordinator) Refresh(ctx context.Context, staleToken string, fn func(ctx context.Context) (Credentials, error)) (Credentials, error) {
	result := c.group.DoChan(staleToken, func() (any, error) {
		// The network call is shared by every waiter on this flight, so
		// it must outlive the initiating caller: one request aborting
		// cannot be allowed to fail the others.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshCallTimeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return Credentials{}, res.Err
		}
		return res.Val.(Credentials), nil
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

// Reset forgets any completed refresh keyed on staleToken. Primarily for
// tests that reuse a coordinator across scenarios.
func (c *RefreshCoordinator) Reset(staleToken string) {
	c.group.Forget(staleToken)
}
