package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport covers every failure to obtain a complete upstream response.
	ErrTransport = errors.New("upstream: transport failure")
	// ErrMalformedResponse reports a response whose framing broke mid-way,
	// such as a body shorter than its declared length. It is also an ErrTransport.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrTransport)
	// ErrAPIUnconfigured is returned when API proxying is requested without api_url.
	ErrAPIUnconfigured = errors.New("upstream: api_url not configured")
)

// Response is one fully read upstream reply.
type Response struct {
	Status     int
	StatusLine string
	Header     http.Header
	Body       []byte
}

func (r *Response) Signal() Signal { return Classify(r.Status) }

func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }
