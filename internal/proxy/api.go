package proxy

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/l0p7/frontproxy/internal/upstream"
)

// ServeAPI forwards a request below /api to the API backend and interprets
// the reply by status and media type.
func (p *Pipeline) ServeAPI(w http.ResponseWriter, r *http.Request) {
	x := p.begin(w, r, modeAPI)
	defer p.finish(x)

	if !p.upstream.APIConfigured() {
		x.logger.Error("api request without api_url")
		x.set("api_unconfigured", http.StatusInternalServerError)
		p.writeFallback(w, http.StatusInternalServerError)
		return
	}

	route := strings.TrimPrefix(r.URL.Path, "/api")
	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, upstream.MaxBodyBytes))
		if err != nil {
			x.logger.Warn("api request body unreadable", slog.Any("error", err))
			x.set("bad_request", http.StatusBadRequest)
			p.writeFallback(w, http.StatusBadRequest)
			return
		}
		body = bytes.NewReader(payload)
	}

	resp, err := p.upstream.FetchAPI(r.Context(), upstream.APIRequest{
		Method:   r.Method,
		Path:     route,
		RawQuery: r.URL.RawQuery,
		Body:     body,
		Header:   r.Header,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, upstream.ErrTransport) {
			status = http.StatusServiceUnavailable
		}
		x.logger.Error("api fetch failed", slog.String("route", route), slog.Any("error", err))
		x.set("upstream_error", status)
		p.writeFallback(w, status)
		return
	}

	for _, cookie := range resp.Header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", cookie)
	}

	reply, err := interpretAPI(resp, route, p.fallback)
	if err != nil {
		x.logger.Error("api response unusable",
			slog.String("route", route),
			slog.Int("upstream_status", resp.Status),
			slog.Any("error", err),
		)
		x.set("malformed", http.StatusBadGateway)
		p.writeFallback(w, http.StatusBadGateway)
		return
	}
	if reply.redirect != "" {
		x.set("upstream_redirect", reply.status)
		http.Redirect(w, r, reply.redirect, reply.status)
		return
	}
	for name, values := range reply.header {
		w.Header()[name] = values
	}
	x.set(resp.Signal().String(), reply.status)
	writeBody(w, reply.status, "", reply.body, x.logger)
}
