// forms/source.go
package forms

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"leaseexit/models"
)

//go:embed templates/*.yaml
var embeddedTemplates embed.FS

// ParseTemplate decodes one YAML template document.
func ParseTemplate(data []byte) (models.FormTemplate, error) {
	var t models.FormTemplate
	if err := yaml.Unmarshal(data, &t); err != nil {
		return models.FormTemplate{}, fmt.Errorf("failed to parse form template: %w", err)
	}
	return t, nil
}

// EmbeddedSource serves the templates compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) Name() string { return "embedded" }

func (EmbeddedSource) Load(ctx context.Context) ([]models.FormTemplate, error) {
	return loadFS(embeddedTemplates, "templates")
}

// DirSource reads *.yaml and *.yml templates from a directory. A missing
// directory yields no templates.
type DirSource struct {
	Dir string
}

func (s DirSource) Name() string { return "dir:" + s.Dir }

func (s DirSource) Load(ctx context.Context) ([]models.FormTemplate, error) {
	if s.Dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(s.Dir); os.IsNotExist(err) {
		return nil, nil
	}
	return loadFS(os.DirFS(s.Dir), ".")
}

func loadFS(fsys fs.FS, dir string) ([]models.FormTemplate, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]models.FormTemplate, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return nil, err
		}
		t, err := ParseTemplate(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
