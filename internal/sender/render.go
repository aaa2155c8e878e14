package sender

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"text/template"
)

// Renderer turns a template spec and its data into text.
type Renderer interface {
	Render(spec TemplateSpec, data Data) (string, error)
}

// FSRenderer renders text/template files from a file system, parsing each
// spec once.
type FSRenderer struct {
	fsys fs.FS

	mu    sync.RWMutex
	cache map[TemplateSpec]*template.Template
}

func NewFSRenderer(fsys fs.FS) *FSRenderer {
	return &FSRenderer{fsys: fsys, cache: make(map[TemplateSpec]*template.Template)}
}

func (r *FSRenderer) Render(spec TemplateSpec, data Data) (string, error) {
	tmpl, err := r.template(spec)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", spec, err)
	}
	return buf.String(), nil
}

func (r *FSRenderer) template(spec TemplateSpec) (*template.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.cache[spec]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New(path.Base(string(spec))).ParseFS(r.fsys, string(spec))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", spec, err)
	}

	r.mu.Lock()
	r.cache[spec] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}
