package cache

import (
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ignoredParams never reach the key: they only steer language negotiation,
// whose outcome is already part of the key.
var ignoredParams = map[string]struct{}{
	"change_lang": {},
	"l":           {},
}

// Key derives "<namespace>:<tenant>:<digest>". The digest covers the slug, the
// negotiated language and the remaining query in canonical order.
func Key(namespace, tenant, slug, lang string, query url.Values) string {
	names := make([]string, 0, len(query))
	for name := range query {
		if _, skip := ignoredParams[name]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	h := blake3.New()
	_, _ = h.Write([]byte(slug))
	_, _ = h.Write([]byte("\x00"))
	_, _ = h.Write([]byte(lang))
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		for _, v := range values {
			_, _ = h.Write([]byte("\x00"))
			_, _ = h.Write([]byte(url.QueryEscape(name)))
			_, _ = h.Write([]byte("="))
			_, _ = h.Write([]byte(url.QueryEscape(v)))
		}
	}

	var b strings.Builder
	b.Grow(len(namespace) + len(tenant) + 66)
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(tenant)
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(h.Sum(nil)))
	return b.String()
}
