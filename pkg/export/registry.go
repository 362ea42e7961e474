package export

import (
	"fmt"
	"sort"
)

// Registry keys renderers by format. A renderer that is missing or broken
// only affects its own format.
type Registry struct {
	renderers map[Format]Renderer
}

// NewRegistry registers the given renderers; later entries replace earlier ones.
func NewRegistry(renderers ...Renderer) *Registry {
	r := &Registry{renderers: make(map[Format]Renderer, len(renderers))}
	for _, renderer := range renderers {
		if renderer == nil {
			continue
		}
		r.renderers[renderer.Format()] = renderer
	}
	return r
}

// DefaultRegistry wires the CSV, XLSX and PDF renderers.
func DefaultRegistry() *Registry {
	return NewRegistry(NewCSVExporter(), NewXLSXExporter(), NewPDFExporter())
}

// Get returns the renderer for a format.
func (r *Registry) Get(format Format) (Renderer, bool) {
	if r == nil {
		return nil, false
	}
	renderer, ok := r.renderers[format]
	return renderer, ok
}

// Formats lists registered formats in stable order.
func (r *Registry) Formats() []Format {
	if r == nil {
		return nil
	}
	out := make([]Format, 0, len(r.renderers))
	for f := range r.renderers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render dispatches to the renderer for format, converting panics into errors.
func (r *Registry) Render(format Format, table Table) (artifact *Artifact, err error) {
	renderer, ok := r.Get(format)
	if !ok {
		return nil, fmt.Errorf("no renderer registered for format %q", format)
	}
	defer func() {
		if rec := recover(); rec != nil {
			artifact = nil
			err = fmt.Errorf("%s renderer panic: %v", format, rec)
		}
	}()
	return renderer.Render(table)
}
