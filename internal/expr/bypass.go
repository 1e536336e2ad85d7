package expr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Request is the read-only view of an inbound request that predicates see.
type Request struct {
	Method  string
	Path    string
	Slug    string
	Host    string
	Query   map[string]string
	Cookies map[string]string
	Headers map[string]string
}

// FromHTTP snapshots r. Only the first value of each query parameter and
// header is kept; header names are lower-cased.
func FromHTTP(r *http.Request, slug string) Request {
	req := Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Slug:    slug,
		Host:    r.Host,
		Query:   make(map[string]string, len(r.URL.Query())),
		Cookies: make(map[string]string),
		Headers: make(map[string]string, len(r.Header)),
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[key] = values[0]
		}
	}
	for _, c := range r.Cookies() {
		if _, seen := req.Cookies[c.Name]; !seen {
			req.Cookies[c.Name] = c.Value
		}
	}
	for key, values := range r.Header {
		if len(values) > 0 {
			req.Headers[strings.ToLower(key)] = values[0]
		}
	}
	return req
}

func (r Request) activation(tenant string) map[string]any {
	return map[string]any{
		"request": map[string]any{
			"method":  r.Method,
			"path":    r.Path,
			"slug":    r.Slug,
			"host":    r.Host,
			"query":   stringMap(r.Query),
			"cookies": stringMap(r.Cookies),
			"headers": stringMap(r.Headers),
		},
		"tenant": tenant,
	}
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// BypassSet holds the compiled cache_bypass predicates of one tenant.
type BypassSet struct {
	programs []Program
}

// CompileBypass compiles every expression; the first failure aborts.
func (e *Environment) CompileBypass(expressions []string) (BypassSet, error) {
	set := BypassSet{programs: make([]Program, 0, len(expressions))}
	for i, expression := range expressions {
		program, err := e.Compile(expression)
		if err != nil {
			return BypassSet{}, fmt.Errorf("expr: cache_bypass[%d]: %w", i, err)
		}
		set.programs = append(set.programs, program)
	}
	return set, nil
}

// Empty reports whether the set has no predicates.
func (s BypassSet) Empty() bool { return len(s.programs) == 0 }

// Match returns the source of the first predicate that evaluates to true.
// Evaluation errors are joined and returned alongside; an erroring predicate
// never matches.
func (s BypassSet) Match(tenant string, req Request) (string, bool, error) {
	if len(s.programs) == 0 {
		return "", false, nil
	}
	vars := req.activation(tenant)
	var errs []error
	for _, program := range s.programs {
		matched, err := program.EvalBool(vars)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if matched {
			return program.Source(), true, errors.Join(errs...)
		}
	}
	return "", false, errors.Join(errs...)
}
