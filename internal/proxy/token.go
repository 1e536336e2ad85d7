package proxy

import (
	"bytes"
	"net/http"

	"github.com/google/uuid"
)

const (
	// TokenPlaceholder marks where pages expect the caller's CSRF token.
	TokenPlaceholder = "{{csrf_token}}"
	TokenCookie      = "XSRF-TOKEN"
)

// ensureToken returns the caller's CSRF token, issuing a fresh one when the
// request carries none.
func ensureToken(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// insertToken is applied identically to cached and fresh pages.
func insertToken(body []byte, token string) []byte {
	if !bytes.Contains(body, []byte(TokenPlaceholder)) {
		return body
	}
	return bytes.ReplaceAll(body, []byte(TokenPlaceholder), []byte(token))
}
