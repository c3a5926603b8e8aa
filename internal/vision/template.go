// File: internal/vision/template.go
package vision

import (
	"errors"
	"fmt"
	"image"
	_ "image/png" // template assets are PNG files
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrMissingTemplate is returned when a requested template name is not part
// of the loaded library. Hitting it during startup preflight is fatal.
var ErrMissingTemplate = errors.New("template not found")

// Template is a named reference image for one on-screen UI element. The
// raster is converted to grayscale once at load time; instances are immutable
// after that.
type Template struct {
	Name string
	Gray *image.Gray
	Path string
}

// NewTemplate builds an in-memory template from any raster. Used by tests and
// by LoadTemplate.
func NewTemplate(name string, img image.Image) Template {
	return Template{Name: name, Gray: grayClone(img)}
}

// LoadTemplate reads and decodes a single template image from disk.
func LoadTemplate(name, path string) (Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return Template{}, fmt.Errorf("open template %q: %w", name, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Template{}, fmt.Errorf("decode template %q: %w", name, err)
	}
	if img.Bounds().Empty() {
		return Template{}, fmt.Errorf("template %q: %w: zero-size image", name, ErrInvalidImage)
	}

	t := NewTemplate(name, img)
	t.Path = path
	return t, nil
}

// Library is the set of templates available to the automation loop, keyed by
// lowercased file stem ("Career.png" becomes "career").
type Library struct {
	templates map[string]Template
}

// NewLibrary builds a library from already-loaded templates. Used by tests.
func NewLibrary(tmpls ...Template) *Library {
	l := &Library{templates: make(map[string]Template, len(tmpls))}
	for _, t := range tmpls {
		l.templates[templateKey(t.Name)] = t
	}
	return l
}

// LoadLibrary loads every PNG under the given directories. The first
// directory is the primary asset store and must exist; later directories are
// fallbacks and may be absent. Earlier directories win on name collisions.
func LoadLibrary(dirs ...string) (*Library, error) {
	if len(dirs) == 0 {
		return nil, errors.New("no template directories configured")
	}

	l := &Library{templates: make(map[string]Template)}
	for i, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if i > 0 && os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read template directory %q: %w", dir, err)
		}

		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
				continue
			}
			key := templateKey(e.Name())
			if _, ok := l.templates[key]; ok {
				continue
			}
			t, err := LoadTemplate(key, filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			l.templates[key] = t
		}
	}
	return l, nil
}

// Get returns the template registered under name.
func (l *Library) Get(name string) (Template, error) {
	t, ok := l.templates[templateKey(name)]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrMissingTemplate, name)
	}
	return t, nil
}

// Require verifies that every named template is present. Called once at
// startup so a missing asset fails the process before any taps are issued.
func (l *Library) Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := l.templates[templateKey(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingTemplate, strings.Join(missing, ", "))
	}
	return nil
}

// Names lists the loaded template names, sorted.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func templateKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}
