// Package render personalizes templates against a recipient context.
//
// Templates use the Jinja/Nunjucks dialect: {{ name }} interpolation,
// {% if %} and {% for %} blocks and filters. Values are HTML-escaped in
// bodies; subjects render verbatim.
package render

import (
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.io/infrasutra/batchmail/internal/recipient"
)

// identifier matches the context keys the engine accepts. Columns such as
// "First Name" are dropped from the context rather than failing the render.
var identifier = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ErrorMarker opens the block prepended to a body that failed to render.
const ErrorMarker = `<div data-batchmail-render-error="true" style="border:1px solid #b91c1c;color:#b91c1c;padding:8px;font-family:monospace">`

// ErrTemplateLoad is returned by the engine loader for every path.
var ErrTemplateLoad = errors.New("template loading is disabled")

// bannedTags read other templates or files from disk.
var bannedTags = []string{"ssi", "include", "import", "extends"}

// engine renders from strings only. Its loader resolves nothing and the tags
// that pull in other files are banned.
var (
	engine   = newEngine()
	engineMu sync.Mutex
)

type noLoader struct{}

func (noLoader) Abs(_, name string) string { return name }

func (noLoader) Get(string) (io.Reader, error) { return nil, ErrTemplateLoad }

func newEngine() *pongo2.TemplateSet {
	set := pongo2.NewSet("batchmail", noLoader{})
	for _, tag := range bannedTags {
		if err := set.BanTag(tag); err != nil {
			panic(fmt.Sprintf("ban template tag %q: %v", tag, err))
		}
	}
	return set
}

// Render executes template against ctx. It fails on syntax or execution
// errors and keeps no state between calls.
func Render(template string, ctx map[string]any) (string, error) {
	engineMu.Lock()
	tpl, err := engine.FromString(template)
	engineMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := tpl.Execute(engineContext(ctx))
	if err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return out, nil
}

// Body renders an HTML body. On failure it returns the unrendered template
// prefixed with a visible error marker, together with the render error.
func Body(template string, ctx map[string]any) (string, error) {
	out, err := Render(template, ctx)
	if err != nil {
		marker := ErrorMarker + "Template error: " + html.EscapeString(err.Error()) + "</div>\n"
		return marker + template, err
	}
	return out, nil
}

// Subject resolves the subject line for row: the rendered subject template
// when one is given and renders cleanly, else the mapped subject column,
// else "".
func Subject(subjectTemplate string, row recipient.Row, mapping recipient.Mapping) string {
	if subjectTemplate != "" {
		out, err := Render("{% autoescape off %}"+subjectTemplate+"{% endautoescape %}", recipient.Context(row, mapping))
		if err == nil {
			return out
		}
	}
	if mapping.Subject != "" {
		if value := row[mapping.Subject]; value != "" {
			return value
		}
	}
	return ""
}

func engineContext(ctx map[string]any) pongo2.Context {
	out := make(pongo2.Context, len(ctx))
	for key, value := range ctx {
		if !identifier.MatchString(key) {
			continue
		}
		out[key] = value
	}
	return out
}
