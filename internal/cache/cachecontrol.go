package cache

import (
	"strconv"
	"strings"
	"time"
)

// Directives holds the Cache-Control fields of a frontend response that
// affect page storage.
type Directives struct {
	MaxAge  *time.Duration
	SMaxAge *time.Duration
	NoStore bool // no-store, no-cache or private
}

// ParseCacheControl reads a Cache-Control header. Unknown directives and
// malformed ages are ignored.
func ParseCacheControl(header string) Directives {
	var d Directives
	for _, part := range strings.Split(header, ",") {
		name, value, hasValue := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "no-store", "no-cache", "private":
			d.NoStore = true
		case "max-age", "s-maxage":
			if !hasValue {
				continue
			}
			seconds, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`))
			if err != nil || seconds < 0 {
				continue
			}
			age := time.Duration(seconds) * time.Second
			if name == "max-age" {
				d.MaxAge = &age
			} else {
				d.SMaxAge = &age
			}
		}
	}
	return d
}

// EffectiveTTL bounds the tenant TTL by the upstream directives. The
// frontend may shorten or forbid storage, never extend it. s-maxage wins
// over max-age since the page cache is shared.
func EffectiveTTL(tenantTTL time.Duration, header string) time.Duration {
	if tenantTTL <= 0 || header == "" {
		return tenantTTL
	}
	d := ParseCacheControl(header)
	if d.NoStore {
		return 0
	}
	limit := d.MaxAge
	if d.SMaxAge != nil {
		limit = d.SMaxAge
	}
	if limit != nil && *limit < tenantTTL {
		return *limit
	}
	return tenantTTL
}
