// Package client issues authenticated requests against the agency backend and
// normalizes every outcome into an envelope.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/auth"
	"github.com/vovakirdan/agencyctl/internal/credential"
	"github.com/vovakirdan/agencyctl/internal/envelope"
	"github.com/vovakirdan/agencyctl/internal/log"
)

// DefaultBasePath is used when no base URL is configured.
const DefaultBasePath = "/api/v1"

// RequestIDHeader correlates client and backend logs.
const RequestIDHeader = "X-Request-ID"

// Request describes one call. Header and Body are optional.
type Request struct {
	Method string
	Header http.Header
	Body   []byte
}

// Doer sends HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client attaches the bearer token to each request after making sure it is valid.
type Client struct {
	baseURL   string
	validator auth.Validator
	creds     credential.Reader
	http      Doer
	log       *zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the REST base, e.g. https://host/api/v1.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient sets the transport used for calls. No timeout is applied by default.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log.OrNop(logger)
	}
}

// New creates a client. validator decides whether a call may proceed and creds is
// read after validation for the token to send.
func New(validator auth.Validator, creds credential.Reader, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBasePath,
		validator: validator,
		creds:     creds,
		http:      &http.Client{},
		log:       log.OrNop(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the REST base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL joins path and query onto the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Request performs an authenticated call. It never returns an error: transport and
// status failures come back as a failed envelope. An empty rawURL is a programming
// error and panics.
func (c *Client) Request(ctx context.Context, rawURL string, req Request) envelope.Raw {
	if rawURL == "" {
		panic("client: empty request url")
	}

	if !c.validator.EnsureValid(ctx) {
		return envelope.Reauth()
	}

	// Read after EnsureValid; a refresh may just have replaced it.
	token := c.creds.Get().AccessToken
	return c.do(ctx, rawURL, req, token)
}

// Public performs a call without credentials, for endpoints such as /version.
func (c *Client) Public(ctx context.Context, rawURL string, req Request) envelope.Raw {
	if rawURL == "" {
		panic("client: empty request url")
	}
	return c.do(ctx, rawURL, req, "")
}

func (c *Client) do(ctx context.Context, rawURL string, req Request, token string) envelope.Raw {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return envelope.DecodeTransportError(err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Warn().Err(err).
			Str("method", method).
			Str("url", rawURL).
			Str("request_id", requestID).
			Msg("request failed")
		return envelope.DecodeTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope.DecodeTransportError(err)
	}

	env := envelope.Decode(resp.StatusCode, data)
	c.log.Debug().
		Str("method", method).
		Str("path", httpReq.URL.Path).
		Int("status", resp.StatusCode).
		Bool("ok", env.Status).
		Str("request_id", requestID).
		Dur("duration", time.Since(started)).
		Msg("http request")
	return env
}

// JSON marshals payload for use as a request body.
func JSON(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
