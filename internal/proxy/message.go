package proxy

import (
	"html"
	"log/slog"
	"net/http"
)

// FallbackMessage is the only error text callers ever see.
func FallbackMessage(supportEmail string) string {
	contact := "Please contact us via email"
	if supportEmail != "" {
		email := html.EscapeString(supportEmail)
		contact = "Please contact us at <a href='mailto:" + email + "'>" + email + "</a>"
	}
	return "Sorry, looks like something went wrong. " + contact + " for further assistance."
}

func (p *Pipeline) writeFallback(w http.ResponseWriter, status int) {
	writeBody(w, status, "text/html; charset=utf-8", []byte(p.fallback), p.logger)
}

func writeBody(w http.ResponseWriter, status int, contentType string, body []byte, logger *slog.Logger) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Debug("response write failed", slog.Any("error", err))
	}
}
