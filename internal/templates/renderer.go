package templates

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	sprig "github.com/Masterminds/sprig/v3"
)

// defaultNotFound is served when no not-found view exists on disk.
const defaultNotFound = `<!DOCTYPE html>
<html lang="{{ default "en" .Language }}">
<head><meta charset="utf-8"><title>Page not found</title></head>
<body>
<h1>Page not found</h1>
<p>The page {{ .Path | trimPrefix "/" | default "you requested" }} does not exist.</p>
<p><a href="/">Back to the homepage</a></p>
</body>
</html>
`

// NotFoundData is the context handed to the not-found view.
type NotFoundData struct {
	Status       int
	Path         string
	Host         string
	Tenant       string
	Language     string
	SupportEmail string
}

// Renderer compiles html templates with the sprig helpers, minus the ones that
// reach the process environment or filesystem.
type Renderer struct {
	sandbox *Sandbox
	funcs   template.FuncMap
}

// Template is a compiled view. Safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

// NewRenderer binds a renderer to sandbox. A nil sandbox disables CompileFile.
func NewRenderer(sandbox *Sandbox) *Renderer {
	funcs := sprig.FuncMap()
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(funcs, name)
	}
	return &Renderer{sandbox: sandbox, funcs: funcs}
}

// CompileInline parses source under name.
func (r *Renderer) CompileInline(name, source string) (*Template, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("templates: %q is empty", name)
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// CompileFile resolves path through the sandbox and parses it.
func (r *Renderer) CompileFile(path string) (*Template, error) {
	if r.sandbox == nil {
		return nil, errors.New("templates: file templates require a sandbox")
	}
	resolved, err := r.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("templates: read %q: %w", path, err)
	}
	return r.CompileInline(filepath.Base(resolved), string(contents))
}

// LoadNotFound compiles the not-found view from folder/name. When the folder
// or the file does not exist the built-in page is used instead; a file that
// exists but fails to parse is an error.
func LoadNotFound(folder, name string) (*Template, error) {
	renderer := NewRenderer(nil)
	if strings.TrimSpace(folder) != "" && strings.TrimSpace(name) != "" {
		if sandbox, err := NewSandbox(folder); err == nil {
			renderer = NewRenderer(sandbox)
			tmpl, err := renderer.CompileFile(name)
			if err == nil {
				return tmpl, nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}
	return renderer.CompileInline("not_found.default", defaultNotFound)
}

// Render executes the template with data.
func (t *Template) Render(data any) ([]byte, error) {
	if t == nil {
		return nil, errors.New("templates: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("templates: execute %q: %w", t.name, err)
	}
	return buf.Bytes(), nil
}

func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}
