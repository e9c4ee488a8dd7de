// Package templates renders the prompt, report and chat templates shipped
// under assets/.
package templates

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"finanalyst/pkg/errors"
)

//go:embed assets/**/*.tmpl
var embeddedFS embed.FS

const ext = ".tmpl"

// Registry resolves templates by ID, the path under the root without the
// extension, e.g. "agents/task". Each file is parsed once; a file added
// after construction is loaded on first use.
type Registry struct {
	fs fs.FS

	mu     sync.RWMutex
	parsed map[string]*template.Template
}

// NewRegistry loads every template under dir.
func NewRegistry(dir string) (*Registry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "resolve template dir")
	}
	return NewRegistryFromFS(os.DirFS(abs), abs)
}

// NewRegistryFromFS loads every template in filesystem. root only labels
// errors.
func NewRegistryFromFS(filesystem fs.FS, root string) (*Registry, error) {
	r := &Registry{fs: filesystem, parsed: map[string]*template.Template{}}

	err := fs.WalkDir(filesystem, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Ext(p) != ext {
			return err
		}
		return r.load(p)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load templates from %s", root)
	}
	return r, nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Get returns the registry of embedded assets. It panics if they do not
// parse, which a test catches before release.
func Get() *Registry {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(embeddedFS, "assets")
		if err != nil {
			defaultErr = err
			return
		}
		defaultRegistry, defaultErr = NewRegistryFromFS(sub, "assets")
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultRegistry
}

// Render executes the template with id. An unknown id fails with
// ErrNotFound.
func (r *Registry) Render(id string, data any) (string, error) {
	tmpl, err := r.lookup(id)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render template %s", id)
	}
	return buf.String(), nil
}

func (r *Registry) lookup(id string) (*template.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.parsed[id]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	p := id + ext
	if _, err := fs.Stat(r.fs, p); err != nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "template %s", id)
	}
	if err := r.load(p); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parsed[id], nil
}

// List returns the IDs loaded so far, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.parsed))
	for id := range r.parsed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) load(p string) error {
	id := strings.TrimSuffix(p, ext)

	content, err := fs.ReadFile(r.fs, p)
	if err != nil {
		return errors.Wrapf(err, "read template %s", id)
	}

	parsed, err := template.New(id).Funcs(Funcs()).Parse(string(content))
	if err != nil {
		return errors.Wrapf(err, "parse template %s", id)
	}

	r.mu.Lock()
	r.parsed[id] = parsed
	r.mu.Unlock()
	return nil
}
