package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/go-chatadmin-client/gateway"
)

// Persona is a chatbot persona definition consumed by the console.
type Persona struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Default      bool      `json:"default"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// PersonaService reads persona definitions.
type PersonaService struct {
	gw *gateway.Gateway
}

// NewPersonaService creates the persona service.
func NewPersonaService(gw *gateway.Gateway) *PersonaService {
	return &PersonaService{gw: gw}
}

// List returns one page of personas.
func (s *PersonaService) List(ctx context.Context, params ListParams) (*Page[Persona], error) {
	var page Page[Persona]
	if err := s.gw.RequestJSON(ctx, http.MethodGet, "/personas", nil, &page, params.options()...); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get returns a single persona.
func (s *PersonaService) Get(ctx context.Context, id string) (*Persona, error) {
	var persona Persona
	if err := s.gw.RequestJSON(ctx, http.MethodGet, fmt.Sprintf("/personas/%s", id), nil, &persona); err != nil {
		return nil, err
	}
	return &persona, nil
}
