package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-chatadmin-client/gateway"
)

// UsageSummary aggregates token consumption for the dashboard cards.
type UsageSummary struct {
	TokensUsed    int64   `json:"tokens_used"`
	TokenQuota    int64   `json:"token_quota"`
	Conversations int64   `json:"conversations"`
	Documents     int64   `json:"documents"`
	QuotaUsedPct  float64 `json:"quota_used_pct"`
}

// UsagePoint is one bucket of a usage time series.
type UsagePoint struct {
	Period     string `json:"period"` // e.g. "2026-08-01" or "2026-08"
	TokensUsed int64  `json:"tokens_used"`
	Requests   int64  `json:"requests"`
}

// UsageRange bounds a usage query. Zero values omit the bound.
type UsageRange struct {
	From time.Time
	To   time.Time
}

func (r UsageRange) options() []gateway.RequestOption {
	var opts []gateway.RequestOption
	if !r.From.IsZero() {
		opts = append(opts, gateway.WithQueryParam("from", r.From.Format(time.DateOnly)))
	}
	if !r.To.IsZero() {
		opts = append(opts, gateway.WithQueryParam("to", r.To.Format(time.DateOnly)))
	}
	return opts
}

// UsageService reads the token-usage aggregates driving the dashboards.
type UsageService struct {
	gw *gateway.Gateway
}

// NewUsageService creates the usage reporting service.
func NewUsageService(gw *gateway.Gateway) *UsageService {
	return &UsageService{gw: gw}
}

// Summary returns aggregate usage for the given range.
func (s *UsageService) Summary(ctx context.Context, r UsageRange) (*UsageSummary, error) {
	var summary UsageSummary
	if err := s.gw.RequestJSON(ctx, http.MethodGet, "/usage/summary", nil, &summary, r.options()...); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Series returns the per-period usage buckets for the given range.
func (s *UsageService) Series(ctx context.Context, r UsageRange) ([]UsagePoint, error) {
	var points []UsagePoint
	if err := s.gw.RequestJSON(ctx, http.MethodGet, "/usage/series", nil, &points, r.options()...); err != nil {
		return nil, err
	}
	return points, nil
}
