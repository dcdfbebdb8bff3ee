package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// requestSpec is the immutable descriptor of one logical request. The
// retry loop rebuilds the transport request from it on every attempt.
type requestSpec struct {
	method        string
	path          string
	body          []byte
	contentType   string
	query         url.Values
	header        http.Header
	timeout       time.Duration
	correlationID string
	authEndpoint  bool
}

// RequestOption adjusts a single request.
type RequestOption func(*requestSpec) error

// WithQuery sets the full query string for the request.
func WithQuery(values url.Values) RequestOption {
	return func(spec *requestSpec) error {
		spec.query = values
		return nil
	}
}

// WithQueryParam adds one query parameter.
func WithQueryParam(key, value string) RequestOption {
	return func(spec *requestSpec) error {
		if spec.query == nil {
			spec.query = url.Values{}
		}
		spec.query.Set(key, value)
		return nil
	}
}

// WithHeader adds one header to the request.
func WithHeader(key, value string) RequestOption {
	return func(spec *requestSpec) error {
		if spec.header == nil {
			spec.header = http.Header{}
		}
		spec.header.Set(key, value)
		return nil
	}
}

// WithTimeout overrides the per-attempt timeout. Used by uploads, whose
// timeout scales with payload size.
func WithTimeout(d time.Duration) RequestOption {
	return func(spec *requestSpec) error {
		spec.timeout = d
		return nil
	}
}

// WithRawBody replaces the JSON body with a raw payload. contentType may
// name a multipart type carrying its boundary; an empty contentType
// leaves the header unset so the transport can choose.
func WithRawBody(r io.Reader, contentType string) RequestOption {
	return func(spec *requestSpec) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return errors.Wrap(err, "read raw body")
		}
		spec.body = data
		spec.contentType = contentType
		return nil
	}
}

func (g *Gateway) newRequestSpec(method, path string, body any, opts ...RequestOption) (*requestSpec, error) {
	spec := &requestSpec{
		method:        method,
		path:          path,
		correlationID: newCorrelationID(g.nowTime()),
		authEndpoint:  g.isAuthPath(path),
	}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		spec.body = data
		spec.contentType = "application/json"
	}

	for _, opt := range opts {
		if err := opt(spec); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// isAuthPath reports whether path belongs to the login/register/reset
// surfaces whose 401s bypass the refresh protocol.
func (g *Gateway) isAuthPath(path string) bool {
	for _, authPath := range g.authPaths {
		if path == authPath || strings.HasPrefix(path, authPath+"/") {
			return true
		}
	}
	return false
}
