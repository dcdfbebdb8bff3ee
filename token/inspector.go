// Package token inspects JWT access tokens issued by the chatadmin
// backend. The client never verifies signatures (it holds no keys);
// it decodes the payload to read expiry and identity claims.
package token

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-chatadmin-client/internal/utils"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	// expirySkew treats a token expiring within this window as already
	// expired, so a request is never fired with an about-to-die token.
	expirySkew = 5 * time.Second

	// DefaultExpiringSoonThreshold is the looser window used for
	// proactive-refresh scheduling decisions.
	DefaultExpiringSoonThreshold = 5 * time.Minute
)

// Introspection holds the claims decoded from an access token.
// When Active is false the other fields may not be populated.
type Introspection struct {
	Active      bool      `json:"active"`                // Is the token present and unexpired
	Sub         string    `json:"sub,omitempty"`         // User's unique ID
	Username    string    `json:"username,omitempty"`    // Username claim
	Email       string    `json:"email,omitempty"`       // Email claim
	Name        string    `json:"name,omitempty"`        // Display name claim
	Role        string    `json:"role,omitempty"`        // Primary role
	Roles       []string  `json:"roles,omitempty"`       // All roles assigned to the user
	ClientID    string    `json:"client_id,omitempty"`   // Tenant/client scoping claim
	Permissions []string  `json:"permissions,omitempty"` // Permission claims
	Iat         time.Time `json:"-"`                     // Issued at
	Exp         time.Time `json:"-"`                     // Expiration
}

// Introspect decodes a JWT without verification and extracts identity and
// expiry claims. Active reflects the 5 second skew buffer.
func Introspect(rawToken string) (*Introspection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &Introspection{Active: false}, nil
	}

	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return &Introspection{Active: false}, err
	}

	claims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return &Introspection{Active: false}, errors.New("error extracting claims")
	}

	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)

	intro := &Introspection{
		Sub:         utils.ClaimString(claims, "sub"),
		Username:    utils.ClaimString(claims, "username"),
		Email:       utils.ClaimString(claims, "email"),
		Name:        utils.ClaimString(claims, "name"),
		Role:        utils.ClaimString(claims, "role"),
		Roles:       utils.ClaimStrings(claims, "roles"),
		ClientID:    utils.ClaimString(claims, "client_id"),
		Permissions: utils.ClaimStrings(claims, "permissions"),
		Iat:         time.Unix(int64(iat), 0),
		Exp:         time.Unix(int64(exp), 0),
	}

	// Some issuers put the user ID under user_id rather than sub
	if intro.Sub == "" {
		intro.Sub = utils.ClaimString(claims, "user_id")
	}
	if intro.Role == "" && len(intro.Roles) > 0 {
		intro.Role = intro.Roles[0]
	}

	intro.Active = exp != 0 && NowTimeFunc().Add(expirySkew).Before(intro.Exp)
	return intro, nil
}

// IsValid reports whether rawToken decodes with an expiry beyond the
// 5 second skew buffer. Absent or malformed tokens are invalid.
func IsValid(rawToken string) bool {
	intro, err := Introspect(rawToken)
	if err != nil {
		return false
	}
	return intro.Active
}

// IsExpiringSoon reports whether rawToken expires within threshold.
// A zero threshold uses DefaultExpiringSoonThreshold. Invalid tokens
// count as expiring.
func IsExpiringSoon(rawToken string, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultExpiringSoonThreshold
	}
	intro, err := Introspect(rawToken)
	if err != nil || intro.Exp.IsZero() {
		return true
	}
	return NowTimeFunc().Add(threshold).After(intro.Exp)
}

// ExpiresAt returns the token's expiry claim.
func ExpiresAt(rawToken string) (time.Time, error) {
	intro, err := Introspect(rawToken)
	if err != nil {
		return time.Time{}, err
	}
	return intro.Exp, nil
}
