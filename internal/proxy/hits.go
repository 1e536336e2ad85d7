package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/l0p7/frontproxy/internal/tenant"
)

const (
	HitCookie    = "hit_id"
	HitCookieTTL = 30 * 24 * time.Hour
)

// startHit records the page view in the background. The returned channel
// yields exactly one value, the hit id or "" on failure, within the tracking
// timeout. A nil channel means tracking is off.
func (p *Pipeline) startHit(ctx context.Context, r *http.Request, t *tenant.Tenant, logger *slog.Logger) <-chan string {
	if !t.TrackingHits {
		return nil
	}
	result := make(chan string, 1)
	if !p.upstream.APIConfigured() {
		logger.Warn("hit tracking enabled without api_url")
		result <- ""
		return result
	}
	rt := r.URL.Query().Get("rt")
	go func() {
		id := ""
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("hit tracker panicked", slog.Any("panic", rec))
			}
			result <- id
		}()
		hitCtx, cancel := context.WithTimeout(ctx, p.trackingTimeout)
		defer cancel()
		got, err := p.upstream.RecordHit(hitCtx, rt, t.ClientID)
		if err != nil {
			logger.Warn("hit tracking failed", slog.Any("error", err))
			return
		}
		id = got
	}()
	return result
}

// stampHit waits for the tracker and sets the hit cookie when an id arrived.
func stampHit(w http.ResponseWriter, hits <-chan string) {
	if hits == nil {
		return
	}
	id := <-hits
	if id == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:    HitCookie,
		Value:   id,
		Path:    "/",
		MaxAge:  int(HitCookieTTL / time.Second),
		Expires: time.Now().Add(HitCookieTTL),
	})
}
