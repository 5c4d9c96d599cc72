package blockview

import (
	"context"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// TemplateSource resolves template names to source text.
type TemplateSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// TemplateLister is implemented by sources that can enumerate their templates.
type TemplateLister interface {
	Names(ctx context.Context) ([]string, error)
}

// FSSource loads templates from a filesystem. A name resolves to the first
// existing file among name itself and name with each extension appended.
type FSSource struct {
	fs         fs.FS
	dirPrefix  string
	extensions []string
}

// NewFSSource creates a source over fsys. When using embed.FS, pass the
// embedded folder as prefix.
func NewFSSource(fsys fs.FS, prefix ...string) *FSSource {
	var dirPrefix string
	if len(prefix) > 0 {
		dirPrefix = strings.Trim(filepath.ToSlash(prefix[0]), "/")
	}
	return &FSSource{fs: fsys, dirPrefix: dirPrefix, extensions: ValidFileExtensions}
}

// WithExtensions replaces the extensions the source tries and strips from names.
func (s *FSSource) WithExtensions(exts ...string) *FSSource {
	if len(exts) > 0 {
		s.extensions = exts
	}
	return s
}

func (s *FSSource) Get(ctx context.Context, name string) (string, error) {
	name = trimName(name, s.extensions)
	var tried []string
	for _, candidate := range s.candidates(name) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tried = append(tried, candidate)
		f, err := s.fs.Open(candidate)
		if err != nil {
			continue
		}
		raw, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return "", &NotFoundError{Name: name, Tried: tried}
}

func (s *FSSource) candidates(name string) []string {
	base := name
	if s.dirPrefix != "" {
		base = path.Join(s.dirPrefix, name)
	}
	out := []string{}
	if slices.Contains(s.extensions, strings.ToLower(path.Ext(base))) {
		out = append(out, base)
	}
	for _, ext := range s.extensions {
		out = append(out, base+ext)
	}
	return out
}

// Names walks the filesystem and returns the name of every template file.
func (s *FSSource) Names(ctx context.Context) ([]string, error) {
	root := "."
	if s.dirPrefix != "" {
		root = s.dirPrefix
	}
	var names []string
	err := fs.WalkDir(s.fs, root, func(p string, info fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if !slices.Contains(s.extensions, ext) {
			return nil
		}
		names = append(names, s.nameFromPath(p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// nameFromPath converts a filesystem path to a template name, relative to the prefix.
func (s *FSSource) nameFromPath(p string) string {
	rel, err := filepath.Rel(s.dirPrefix, p)
	if err != nil || s.dirPrefix == "" {
		rel = p
	}
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return trimName(rel, s.extensions)
}

// normalizeName is trimName with the default extensions.
func normalizeName(n string) string {
	return trimName(n, ValidFileExtensions)
}

// trimName removes quotes, spaces, one of exts and leading slashes.
func trimName(n string, exts []string) string {
	n = strings.TrimSpace(n)
	n = strings.Trim(n, `"' `)
	n = filepath.ToSlash(n)
	if slices.Contains(exts, strings.ToLower(path.Ext(n))) {
		n = strings.TrimSuffix(n, path.Ext(n))
	}
	return strings.TrimPrefix(n, "/")
}

// MapSource holds templates in memory. It is safe for concurrent use.
type MapSource struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMapSource creates a source holding a copy of templates.
func NewMapSource(templates map[string]string) *MapSource {
	m := &MapSource{templates: map[string]string{}}
	for name, src := range templates {
		m.templates[normalizeName(name)] = src
	}
	return m
}

// Set adds or replaces a template.
func (m *MapSource) Set(name, source string) {
	m.mu.Lock()
	m.templates[normalizeName(name)] = source
	m.mu.Unlock()
}

func (m *MapSource) Get(_ context.Context, name string) (string, error) {
	name = normalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.templates[name]
	if !ok {
		return "", &NotFoundError{Name: name}
	}
	return src, nil
}

func (m *MapSource) Names(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
