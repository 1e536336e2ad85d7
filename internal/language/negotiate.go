// Package language decides the active language of a multilingual tenant
// request from the URL, the query, the language cookie and Accept-Language.
// Negotiate is pure: cookie writes and redirects are returned, never applied.
package language

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/l0p7/frontproxy/internal/tenant"
)

const (
	// CookieName carries the visitor's chosen language.
	CookieName = "language_from_request"
	// CookieTTL bounds how long an explicit or derived choice is remembered.
	CookieTTL = 30 * time.Minute

	ParamChange = "change_lang"
	ParamLocale = "l"

	QueryLang         = "lang"
	QueryMainLanguage = "main_language"
)

// Input is the request state negotiation depends on.
type Input struct {
	Host string
	// Slug is the effective request path without its leading separator.
	Slug  string
	Query url.Values
	// Cookie is the current language cookie value, empty when absent.
	Cookie         string
	AcceptLanguage string
	// Prefix is prepended to redirect targets (multidomain dev domain code).
	Prefix string
}

// CookieWrite is one cookie the caller must set on the response.
type CookieWrite struct {
	Name  string
	Value string
	TTL   time.Duration
}

// Decision is the outcome of negotiation. When Redirect is non-empty the
// caller writes Cookies, redirects and stops.
type Decision struct {
	Applies      bool
	Language     string
	MainLanguage string
	Redirect     string
	Cookies      []CookieWrite
}

// Query returns the outbound upstream parameters, empty when negotiation did
// not apply.
func (d Decision) Query() url.Values {
	if !d.Applies {
		return url.Values{}
	}
	return url.Values{
		QueryLang:         {d.Language},
		QueryMainLanguage: {d.MainLanguage},
	}
}

// Negotiate runs the priority chain: explicit change_lang, l equal to the
// main language, root-path detection, then the URL segment.
func Negotiate(in Input, t *tenant.Tenant) Decision {
	if t == nil || !t.IsMultilingual(in.Host) {
		return Decision{}
	}
	main := t.MainLanguage
	urlLang := urlLanguage(in.Slug, t)
	d := Decision{Applies: true, Language: urlLang, MainLanguage: main}

	if requested := in.Query.Get(ParamChange); t.HasLanguage(requested) {
		d.remember(requested)
		if requested != urlLang {
			d.Redirect = canonicalPath(in.Prefix, requested, main)
		}
		d.Language = requested
		return d
	}

	locale := in.Query.Get(ParamLocale)
	if locale == main {
		d.remember(main)
		d.Language = main
		return d
	}

	if in.Slug == "" {
		cookie := in.Cookie
		if !t.HasLanguage(cookie) {
			candidate := fromAcceptLanguage(in.AcceptLanguage)
			if !t.HasLanguage(candidate) {
				candidate = main
			}
			d.remember(candidate)
			if candidate != urlLang {
				d.Redirect = canonicalPath(in.Prefix, candidate, main)
			}
			return d
		}
		if cookie != urlLang {
			d.Redirect = canonicalPath(in.Prefix, cookie, main)
		}
	}
	return d
}

func (d *Decision) remember(lang string) {
	d.Cookies = append(d.Cookies, CookieWrite{Name: CookieName, Value: lang, TTL: CookieTTL})
}

func urlLanguage(slug string, t *tenant.Tenant) string {
	first, _, _ := strings.Cut(slug, "/")
	if t.HasLanguage(first) {
		return first
	}
	return t.MainLanguage
}

// canonicalPath is "/" for the main language and "/{lang}/" otherwise.
func canonicalPath(prefix, lang, main string) string {
	base := "/"
	if prefix != "" {
		base = "/" + prefix + "/"
	}
	if lang == main {
		return base
	}
	return base + lang + "/"
}

// fromAcceptLanguage returns the first two letters of the base language of
// the highest weighted tag.
func fromAcceptLanguage(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	base, _ := tags[0].Base()
	code := base.String()
	if len(code) > 2 {
		code = code[:2]
	}
	return code
}
