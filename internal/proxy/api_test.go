package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/frontproxy/internal/config"
)

func apiHarness(t *testing.T, api http.HandlerFunc) *harness {
	t.Helper()
	return newHarness(t, harnessOptions{
		api:          api,
		defaults:     &config.TenantConfig{FrontendRepoURL: "https://shop.test/"},
		supportEmail: "help@shop.test",
	})
}

func TestAPIJSONIsReencoded(t *testing.T) {
	var target atomic.Value
	h := apiHarness(t, func(w http.ResponseWriter, r *http.Request) {
		target.Store(r.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte("{ \"total\": 12345678901234567890,\n \"items\": [ ] }"))
	})
	resp := h.expect.GET("/api/v1/items").WithQuery("page", "2").Expect().Status(http.StatusOK)
	resp.Header("Content-Type").IsEqual("application/json")
	resp.Body().IsEqual(`{"items":[],"total":12345678901234567890}`)
	require.Equal(t, "/v1/items?page=2", target.Load())
}

func TestAPIForwardsMethodBodyAndHeaders(t *testing.T) {
	h := apiHarness(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"body":   string(body),
			"type":   r.Header.Get("Content-Type"),
			"cookie": r.Header.Get("Cookie"),
			"secret": r.Header.Get("X-Secret"),
		})
	})
	resp := h.expect.POST("/api/orders").
		WithHeader("Content-Type", "application/json").
		WithHeader("X-Secret", "dropped").
		WithCookie("visitor", "v1").
		WithBytes([]byte(`{"qty":3}`)).
		Expect().Status(http.StatusOK)

	obj := resp.JSON().Object()
	obj.Value("method").IsEqual(http.MethodPost)
	obj.Value("body").IsEqual(`{"qty":3}`)
	obj.Value("type").IsEqual("application/json")
	obj.Value("cookie").IsEqual("visitor=v1")
	obj.Value("secret").IsEqual("")
	require.Equal(t, "abc", cookiesOf(resp)["session"].Value)
}

func TestAPIClassification(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		status      int
		header      map[string]string
		body        string
		wantStatus  int
		wantType    string
		wantBody    string
		wantContent string
		disposition string
	}{
		{
			name:       "plain text verbatim",
			path:       "/api/ping",
			status:     http.StatusOK,
			header:     map[string]string{"Content-Type": "text/plain; charset=utf-8"},
			body:       "pong",
			wantStatus: http.StatusOK,
			wantType:   "text/plain; charset=utf-8",
			wantBody:   "pong",
		},
		{
			name:       "html verbatim with upstream status",
			path:       "/api/widget",
			status:     http.StatusCreated,
			header:     map[string]string{"Content-Type": "text/html"},
			body:       "<b>made</b>",
			wantStatus: http.StatusCreated,
			wantType:   "text/html",
			wantBody:   "<b>made</b>",
		},
		{
			name:       "xml kept byte for byte",
			path:       "/api/feed",
			status:     http.StatusOK,
			header:     map[string]string{"Content-Type": "application/xml"},
			body:       `<?xml version="1.0"?><rss xmlns:a="urn:a"><a:item>1</a:item></rss>`,
			wantStatus: http.StatusOK,
			wantType:   "application/xml",
			wantBody:   `<?xml version="1.0"?><rss xmlns:a="urn:a"><a:item>1</a:item></rss>`,
		},
		{
			name:        "malformed xml is an explicit error",
			path:        "/api/feed",
			status:      http.StatusOK,
			header:      map[string]string{"Content-Type": "text/xml"},
			body:        "<rss><item></rss>",
			wantStatus:  http.StatusBadGateway,
			wantContent: "mailto:help@shop.test",
		},
		{
			name:        "malformed json is an explicit error",
			path:        "/api/items",
			status:      http.StatusOK,
			header:      map[string]string{"Content-Type": "application/json"},
			body:        `{"items":`,
			wantStatus:  http.StatusBadGateway,
			wantContent: "Sorry, looks like something went wrong.",
		},
		{
			name:        "binary named after the route",
			path:        "/api/reports/annual.pdf",
			status:      http.StatusOK,
			header:      map[string]string{"Content-Type": "application/pdf"},
			body:        "%PDF-1.4",
			wantStatus:  http.StatusOK,
			wantType:    "application/pdf",
			wantBody:    "%PDF-1.4",
			disposition: "attachment; filename=annual.pdf",
		},
		{
			name:   "cache-disposition filename wins",
			path:   "/api/reports/42",
			status: http.StatusOK,
			header: map[string]string{
				"Content-Type":        "application/pdf",
				"Cache-Disposition":   `attachment; filename="report.pdf"`,
				"Content-Disposition": `attachment; filename="other.pdf"`,
			},
			body:        "%PDF",
			wantStatus:  http.StatusOK,
			wantType:    "application/pdf",
			wantBody:    "%PDF",
			disposition: "attachment; filename=report.pdf",
		},
		{
			name:        "content-disposition filename",
			path:        "/api/export",
			status:      http.StatusOK,
			header:      map[string]string{"Content-Type": "text/csv", "Content-Disposition": `inline; filename="rows.csv"`},
			body:        "a,b",
			wantStatus:  http.StatusOK,
			wantType:    "text/csv",
			wantBody:    "a,b",
			disposition: "attachment; filename=rows.csv",
		},
		{
			name:        "server error with text body becomes envelope",
			path:        "/api/boom",
			status:      http.StatusBadGateway,
			header:      map[string]string{"Content-Type": "text/html"},
			body:        "<h1>bad gateway</h1>",
			wantStatus:  http.StatusBadRequest,
			wantType:    "application/json",
			wantContent: `"errors":["Sorry, looks like something went wrong.`,
		},
		{
			name:       "server error with json body passes through",
			path:       "/api/boom",
			status:     http.StatusInternalServerError,
			header:     map[string]string{"Content-Type": "application/json"},
			body:       `{"status":500,"errors":["db down"]}`,
			wantStatus: http.StatusInternalServerError,
			wantType:   "application/json",
			wantBody:   `{"errors":["db down"],"status":500}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := apiHarness(t, func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			resp := h.expect.GET(tc.path).Expect().Status(tc.wantStatus)
			if tc.wantType != "" {
				resp.Header("Content-Type").IsEqual(tc.wantType)
			}
			if tc.wantBody != "" {
				resp.Body().IsEqual(tc.wantBody)
			}
			if tc.wantContent != "" {
				resp.Body().Contains(tc.wantContent)
			}
			if tc.disposition != "" {
				resp.Header("Content-Disposition").IsEqual(tc.disposition)
			}
		})
	}
}

func TestAPIRedirect(t *testing.T) {
	tests := map[int]int{
		http.StatusFound:             http.StatusFound,
		http.StatusMultipleChoices:   http.StatusFound,
		http.StatusMovedPermanently:  http.StatusMovedPermanently,
		http.StatusSeeOther:          http.StatusSeeOther,
		http.StatusTemporaryRedirect: http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect: http.StatusPermanentRedirect,
	}
	for upstreamStatus, want := range tests {
		t.Run(http.StatusText(upstreamStatus), func(t *testing.T) {
			h := apiHarness(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Location", "https://pay.test/checkout")
				w.WriteHeader(upstreamStatus)
			})
			h.expect.GET("/api/pay").Expect().
				Status(want).
				Header("Location").IsEqual("https://pay.test/checkout")
		})
	}
}

func TestAPIFailures(t *testing.T) {
	h := newHarness(t, harnessOptions{defaults: &config.TenantConfig{}})
	h.expect.GET("/api/items").Expect().
		Status(http.StatusInternalServerError).
		Body().Contains("Sorry, looks like something went wrong.")

	api := apiHarness(t, func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})
	api.expect.GET("/api/items").Expect().
		Status(http.StatusServiceUnavailable).
		Body().Contains("mailto:help@shop.test")
}
