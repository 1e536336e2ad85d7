package upstream

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/l0p7/frontproxy/internal/metrics"
)

// Fetch targets used as metric labels.
const (
	TargetFrontend = "frontend"
	TargetAPI      = "api"
	TargetHits     = "hits"
)

// InstrumentedTransport records one fetch per round trip once the body is
// closed, so latency covers the full download.
type InstrumentedTransport struct {
	base     http.RoundTripper
	target   string
	recorder *metrics.Recorder
}

// NewInstrumentedTransport wraps base; nil means http.DefaultTransport.
func NewInstrumentedTransport(base http.RoundTripper, target string, recorder *metrics.Recorder) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, target: target, recorder: recorder}
}

func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		outcome := "error"
		if req.Context().Err() != nil {
			outcome = "canceled"
		}
		t.recorder.ObserveUpstreamFetch(t.target, outcome, time.Since(start))
		return nil, err
	}
	resp.Body = &instrumentedBody{
		ReadCloser: resp.Body,
		done: func() {
			t.recorder.ObserveUpstreamFetch(t.target, statusOutcome(resp.StatusCode), time.Since(start))
		},
	}
	return resp, nil
}

func statusOutcome(status int) string {
	switch {
	case status == StatusSoftNotFound:
		return "soft_not_found"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "success"
	default:
		return strconv.Itoa(status)
	}
}

type instrumentedBody struct {
	io.ReadCloser
	done     func()
	recorded bool
}

func (b *instrumentedBody) Close() error {
	if !b.recorded {
		b.recorded = true
		b.done()
	}
	return b.ReadCloser.Close()
}
