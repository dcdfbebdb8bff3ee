package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/go-chatadmin-client/gateway"
)

// Client is a tenant client record as shown in the console's tables.
type Client struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Plan         string    `json:"plan,omitempty"`
	Active       bool      `json:"active"`
	TokenQuota   int64     `json:"token_quota,omitempty"`
	TokensUsed   int64     `json:"tokens_used,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// ClientUpdate carries the mutable client fields. Nil pointers are
// omitted so partial updates do not clobber other fields.
type ClientUpdate struct {
	Name         *string `json:"name,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
	Plan         *string `json:"plan,omitempty"`
	Active       *bool   `json:"active,omitempty"`
	TokenQuota   *int64  `json:"token_quota,omitempty"`
}

// ListParams are the pagination and filter inputs shared by the console's
// table views.
type ListParams struct {
	Page    int
	PerPage int
	Search  string
}

func (p ListParams) options() []gateway.RequestOption {
	var opts []gateway.RequestOption
	if p.Page > 0 {
		opts = append(opts, gateway.WithQueryParam("page", strconv.Itoa(p.Page)))
	}
	if p.PerPage > 0 {
		opts = append(opts, gateway.WithQueryParam("per_page", strconv.Itoa(p.PerPage)))
	}
	if p.Search != "" {
		opts = append(opts, gateway.WithQueryParam("search", p.Search))
	}
	return opts
}

// Page wraps a list response with its pagination envelope.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// ClientService manages tenant client records.
type ClientService struct {
	gw *gateway.Gateway
}

// NewClientService creates the client management service.
func NewClientService(gw *gateway.Gateway) *ClientService {
	return &ClientService{gw: gw}
}

// List returns one page of client records.
func (s *ClientService) List(ctx context.Context, params ListParams) (*Page[Client], error) {
	var page Page[Client]
	if err := s.gw.RequestJSON(ctx, http.MethodGet, "/clients", nil, &page, params.options()...); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get returns a single client record.
func (s *ClientService) Get(ctx context.Context, id string) (*Client, error) {
	var client Client
	if err := s.gw.RequestJSON(ctx, http.MethodGet, fmt.Sprintf("/clients/%s", id), nil, &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// Update applies a partial update to a client record.
func (s *ClientService) Update(ctx context.Context, id string, update ClientUpdate) (*Client, error) {
	var client Client
	if err := s.gw.RequestJSON(ctx, http.MethodPatch, fmt.Sprintf("/clients/%s", id), update, &client); err != nil {
		return nil, err
	}
	return &client, nil
}
