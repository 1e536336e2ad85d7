package tenant

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/l0p7/frontproxy/internal/config"
	"github.com/l0p7/frontproxy/internal/expr"
)

// Table is an immutable lookup of tenant bundles built from one config snapshot.
type Table struct {
	dev      bool
	defaults *Tenant
	domains  map[string]*Tenant
}

// Resolution is the outcome of a lookup.
type Resolution struct {
	Tenant *Tenant
	// Key namespaces cache entries. It is the lookup key even when the
	// defaults bundle answered, so hosts sharing defaults never collide.
	Key string
	// Slug is the request path without its leading separator and, in
	// multidomain dev mode, without the domain code segment.
	Slug string
	// Prefix is the stripped domain code segment, dev mode only.
	Prefix string
}

// NewTable compiles every bundle in cfg. Cache bypass predicates are compiled
// here so a broken expression fails the load instead of a request.
func NewTable(cfg config.Config, env *expr.Environment) (*Table, error) {
	t := &Table{
		dev:     cfg.Server.Multidomain.Dev,
		domains: make(map[string]*Tenant, len(cfg.Domains)),
	}
	if cfg.Defaults != nil {
		defaults, err := newTenant("defaults", *cfg.Defaults, env)
		if err != nil {
			return nil, err
		}
		t.defaults = defaults
	}
	for name, bundle := range cfg.Domains {
		tenant, err := newTenant(name, bundle, env)
		if err != nil {
			return nil, err
		}
		t.domains[name] = tenant
	}
	return t, nil
}

// Resolve picks the bundle for host and path. In dev mode a non-empty first
// path segment is the lookup key; otherwise the lowercased, sanitized host is.
func (t *Table) Resolve(host, path string) (Resolution, error) {
	slug := strings.TrimPrefix(path, "/")
	var key, prefix string
	if t.dev {
		first, rest, _ := strings.Cut(slug, "/")
		if first != "" {
			key, prefix, slug = first, first, rest
		}
	}
	if key == "" {
		key = Sanitize(strings.ToLower(host))
	}
	if tenant, ok := t.domains[key]; ok {
		return Resolution{Tenant: tenant, Key: key, Slug: slug, Prefix: prefix}, nil
	}
	if t.defaults != nil {
		return Resolution{Tenant: t.defaults, Key: key, Slug: slug, Prefix: prefix}, nil
	}
	return Resolution{}, fmt.Errorf("%w for %q", ErrConfigMissing, key)
}

// Len counts every bundle including defaults.
func (t *Table) Len() int {
	n := len(t.domains)
	if t.defaults != nil {
		n++
	}
	return n
}

// Names lists domain keys in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.domains))
	for name := range t.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FrontendsValid reports whether at least one bundle exists and every bundle
// has a forwardable frontend_repo_url.
func (t *Table) FrontendsValid() bool {
	if t.Len() == 0 {
		return false
	}
	if t.defaults != nil {
		if _, err := t.defaults.FrontendBase(); err != nil {
			return false
		}
	}
	for _, tenant := range t.domains {
		if _, err := tenant.FrontendBase(); err != nil {
			return false
		}
	}
	return true
}

// Holder publishes the current Table to request handlers. Swaps are atomic so
// in-flight requests keep the snapshot they started with.
type Holder struct {
	current atomic.Pointer[Table]
	logger  *slog.Logger
}

func NewHolder(initial *Table, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Holder{logger: logger}
	h.current.Store(initial)
	return h
}

func (h *Holder) Load() *Table { return h.current.Load() }

// Swap installs next and returns the previous table.
func (h *Holder) Swap(next *Table) *Table {
	prev := h.current.Swap(next)
	h.logger.Info("tenant table swapped", slog.Int("bundles", next.Len()))
	return prev
}
