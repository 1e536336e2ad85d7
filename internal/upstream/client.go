// Package upstream issues the outbound calls of the proxy: page fetches from
// a tenant's frontend repository, raw API passthrough and hit recording.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/frontproxy/internal/metrics"
)

// MaxBodyBytes caps how much of an upstream body is buffered.
const MaxBodyBytes = 32 << 20

// forwardedAPIHeaders are copied from the inbound request to the API backend.
var forwardedAPIHeaders = []string{"Content-Type", "Accept", "Cookie", "Accept-Language", "X-Requested-With"}

type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	APIURL             string
	Recorder           *metrics.Recorder
	// Transport replaces the default dialer stack, used by tests.
	Transport http.RoundTripper
}

// Client owns one http.Client per target so each is instrumented separately.
// Redirects are never followed: they are part of the upstream answer.
type Client struct {
	frontend *http.Client
	api      *http.Client
	hits     *http.Client
	apiURL   string
}

func NewClient(opts Options) *Client {
	base := opts.Transport
	if base == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed frontends
		}
		base = transport
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	build := func(target string) *http.Client {
		return &http.Client{
			Transport: NewInstrumentedTransport(base, target, opts.Recorder),
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Client{
		frontend: build(TargetFrontend),
		api:      build(TargetAPI),
		hits:     build(TargetHits),
		apiURL:   strings.TrimRight(strings.TrimSpace(opts.APIURL), "/"),
	}
}

// APIConfigured reports whether api_url is set.
func (c *Client) APIConfigured() bool { return c.apiURL != "" }

// APIURL joins path and rawQuery onto api_url.
func (c *Client) APIURL(path, rawQuery string) (string, error) {
	if !c.APIConfigured() {
		return "", ErrAPIUnconfigured
	}
	target := c.apiURL + "/" + strings.TrimPrefix(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target, nil
}

// FrontendRequest is a page fetch against a tenant frontend repository.
type FrontendRequest struct {
	Base *url.URL
	// Slug is appended to Base; empty means the base itself.
	Slug string
	// Query carries the original parameters; Overrides win over them.
	Query     url.Values
	Overrides url.Values
	Header    http.Header
}

// FrontendURL builds the page address.
func FrontendURL(req FrontendRequest) *url.URL {
	u := *req.Base
	if req.Slug != "" {
		u.Path = req.Base.Path + strings.TrimPrefix(req.Slug, "/")
		u.RawPath = ""
	}
	query := req.Base.Query()
	for name, values := range req.Query {
		query[name] = append([]string(nil), values...)
	}
	for name, values := range req.Overrides {
		query[name] = append([]string(nil), values...)
	}
	u.RawQuery = query.Encode()
	return &u
}

func (c *Client) FetchFrontend(ctx context.Context, req FrontendRequest) (*Response, error) {
	target := FrontendURL(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build frontend request: %v", ErrTransport, err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	return do(c.frontend, httpReq)
}

// APIRequest is a raw passthrough to the API backend.
type APIRequest struct {
	Method   string
	Path     string
	RawQuery string
	Body     io.Reader
	Header   http.Header
}

func (c *Client) FetchAPI(ctx context.Context, req APIRequest) (*Response, error) {
	target, err := c.APIURL(req.Path, req.RawQuery)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: build api request: %v", ErrTransport, err)
	}
	for _, name := range forwardedAPIHeaders {
		for _, v := range req.Header.Values(name) {
			httpReq.Header.Add(name, v)
		}
	}
	return do(c.api, httpReq)
}

// RecordHit registers a page view and returns the hit id from
// {"data":{"id":...}}.
func (c *Client) RecordHit(ctx context.Context, rt, clientID string) (string, error) {
	target, err := c.APIURL("hits/", url.Values{"rt": {rt}, "client_id": {clientID}}.Encode())
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build hit request: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	resp, err := do(c.hits, httpReq)
	if err != nil {
		return "", err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return "", fmt.Errorf("upstream: hit endpoint returned %d", resp.Status)
	}
	var payload struct {
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("upstream: decode hit response: %w", err)
	}
	id := strings.Trim(string(bytes.TrimSpace(payload.Data.ID)), `"`)
	if id == "" || id == "null" {
		return "", errors.New("upstream: hit response without id")
	}
	return id, nil
}

func do(client *http.Client, req *http.Request) (*Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s: truncated body", ErrMalformedResponse, req.URL.Redacted())
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, req.URL.Redacted(), err)
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("%w: %s: body exceeds %d bytes", ErrMalformedResponse, req.URL.Redacted(), MaxBodyBytes)
	}
	return &Response{
		Status:     resp.StatusCode,
		StatusLine: resp.Proto + " " + resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
