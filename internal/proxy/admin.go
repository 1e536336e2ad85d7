package proxy

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// CheckVersion is reported by the health endpoint.
const CheckVersion = "1.2"

const (
	statusOK  = "OK"
	statusOff = "OFF"
)

type resultPayload struct {
	Result string `json:"result"`
}

type checkPayload struct {
	FrontendRepo string `json:"frontend_repo"`
	Redirect     string `json:"redirect"`
	Caching      string `json:"caching"`
	Version      string `json:"version"`
}

// authorized compares the code query parameter with security_code in
// constant time. An empty security_code locks the admin surface.
func (p *Pipeline) authorized(r *http.Request) bool {
	if p.securityCode == "" {
		return false
	}
	code := r.URL.Query().Get("code")
	return subtle.ConstantTimeCompare([]byte(code), []byte(p.securityCode)) == 1
}

func (p *Pipeline) deny(w http.ResponseWriter, x *exchange) {
	x.logger.Warn("admin request rejected")
	x.set("no_access", http.StatusForbidden)
	writeJSON(w, http.StatusForbidden, resultPayload{Result: "no access"}, x.logger)
}

// ClearCache empties the page cache. Repeating it is harmless.
func (p *Pipeline) ClearCache(w http.ResponseWriter, r *http.Request) {
	x := p.begin(w, r, modeAdmin)
	defer p.finish(x)
	if !p.authorized(r) {
		p.deny(w, x)
		return
	}
	if err := p.cache.Clear(r.Context()); err != nil {
		x.logger.Error("cache clear failed", slog.Any("error", err))
		x.set("clear_failed", http.StatusOK)
		writeJSON(w, http.StatusOK, resultPayload{Result: "error"}, x.logger)
		return
	}
	x.logger.Info("cache cleared")
	x.set("cleared", http.StatusOK)
	writeJSON(w, http.StatusOK, resultPayload{Result: "success"}, x.logger)
}

// Check reports which subsystems are usable.
func (p *Pipeline) Check(w http.ResponseWriter, r *http.Request) {
	x := p.begin(w, r, modeAdmin)
	defer p.finish(x)
	if !p.authorized(r) {
		p.deny(w, x)
		return
	}
	x.set("checked", http.StatusOK)
	writeJSON(w, http.StatusOK, checkPayload{
		FrontendRepo: onOff(p.tenants.Load().FrontendsValid()),
		Redirect:     onOff(p.upstream.APIConfigured()),
		Caching:      onOff(p.cache.Enabled()),
		Version:      CheckVersion,
	}, x.logger)
}

// Redirect sends the caller to the API backend path below /redirect.
func (p *Pipeline) Redirect(w http.ResponseWriter, r *http.Request) {
	x := p.begin(w, r, modeAdmin)
	defer p.finish(x)
	target, err := p.upstream.APIURL(strings.TrimPrefix(r.URL.Path, "/redirect"), r.URL.RawQuery)
	if err != nil {
		x.logger.Error("redirect without api_url", slog.Any("error", err))
		x.set("api_unconfigured", http.StatusInternalServerError)
		p.writeFallback(w, http.StatusInternalServerError)
		return
	}
	x.set("redirect", http.StatusFound)
	http.Redirect(w, r, target, http.StatusFound)
}

func onOff(ok bool) string {
	if ok {
		return statusOK
	}
	return statusOff
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *slog.Logger) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("json encode failed", slog.Any("error", err))
		status = http.StatusInternalServerError
		body = []byte(`{"result":"error"}`)
	}
	writeBody(w, status, "application/json", body, logger)
}
