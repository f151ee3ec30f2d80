package forms

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is a read-only mapping from form id to Form.
type Catalog struct {
	forms []Form
	byID  map[string]Form
}

type catalogDoc struct {
	Forms []Form `yaml:"forms"`
}

// NewCatalog validates forms and indexes them by id.
func NewCatalog(forms ...Form) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Form, len(forms))}
	var errs []error
	for _, f := range forms {
		if strings.TrimSpace(f.ID) == "" {
			errs = append(errs, errors.New("form with empty id"))
			continue
		}
		if _, dup := c.byID[f.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate form id %q", f.ID))
			continue
		}
		seen := make(map[string]bool, len(f.Fields))
		for _, field := range f.Fields {
			switch {
			case strings.TrimSpace(field.ID) == "":
				errs = append(errs, fmt.Errorf("form %q: field with empty id", f.ID))
			case seen[field.ID]:
				errs = append(errs, fmt.Errorf("form %q: duplicate field id %q", f.ID, field.ID))
			case field.Kind == nil:
				errs = append(errs, fmt.Errorf("form %q: field %q has no kind", f.ID, field.ID))
			case strings.TrimSpace(field.Question) == "":
				errs = append(errs, fmt.Errorf("form %q: field %q has no question", f.ID, field.ID))
			}
			seen[field.ID] = true
		}
		c.forms = append(c.forms, f)
		c.byID[f.ID] = f
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("forms: invalid catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("forms: parse catalog: %w", err)
	}
	return NewCatalog(doc.Forms...)
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("forms: read catalog: %w", err)
	}
	return LoadCatalog(data)
}

// DefaultCatalog returns the built-in 2025 income tax catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultCatalogYAML)
}

// Lookup returns the form with the given id.
func (c *Catalog) Lookup(id string) (Form, bool) {
	f, ok := c.byID[id]
	return f, ok
}

// All returns the forms in catalog order.
func (c *Catalog) All() []Form {
	out := make([]Form, len(c.forms))
	copy(out, c.forms)
	return out
}

// Resolve maps ids to forms in the given order. Unknown ids are returned
// separately; repeated ids resolve once.
func (c *Catalog) Resolve(ids []string) (resolved []Form, unknown []string) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := c.byID[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		resolved = append(resolved, f)
	}
	return resolved, unknown
}
