package session

import (
	"time"

	"golang.org/x/oauth2"
)

// State is the durable snapshot of a session, written on every credential
// or identity change so a process restart does not lose the session.
type State struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
	User         *User     `json:"user,omitempty"`
}

// Credentials returns the stored tokens as a standard oauth2 token.
func (s *State) Credentials() *oauth2.Token {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.TokenExpiry,
	}
}

// Store persists session state across restarts
type Store interface {
	Save(state *State) error
	Load() (*State, error) // Returns nil, nil when no state is stored
	Clear() error
}
