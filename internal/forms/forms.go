// Package forms holds the static catalog of tax forms and their fields.
package forms

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Form is one real-world tax form: an ordered group of fields.
type Form struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	TriggerKeywords []string `yaml:"triggerKeywords" json:"triggerKeywords"`
	Fields          []Field  `yaml:"fields" json:"fields"`
}

// Field is one question/answer slot of a form.
type Field struct {
	ID       string
	Label    string
	Question string
	Kind     Kind
	// Required is informational; the extractor may still return no value.
	Required bool
	Hint     string
	// Unit is appended to numbers in exported documents, e.g. "€".
	Unit string
}

// fieldDoc is the serialized shape of a Field shared by YAML and JSON.
type fieldDoc struct {
	ID       string   `yaml:"id" json:"id"`
	Label    string   `yaml:"label" json:"label"`
	Question string   `yaml:"question" json:"question"`
	Type     string   `yaml:"type" json:"type"`
	Options  []string `yaml:"options,omitempty" json:"options,omitempty"`
	Required bool     `yaml:"required" json:"required"`
	Hint     string   `yaml:"hint,omitempty" json:"hint,omitempty"`
	Unit     string   `yaml:"unit,omitempty" json:"unit,omitempty"`
}

func (f Field) doc() fieldDoc {
	d := fieldDoc{
		ID:       f.ID,
		Label:    f.Label,
		Question: f.Question,
		Required: f.Required,
		Hint:     f.Hint,
		Unit:     f.Unit,
	}
	if f.Kind != nil {
		d.Type = f.Kind.Name()
		d.Options = Choices(f.Kind)
	}
	return d
}

func (f *Field) fromDoc(d fieldDoc) error {
	kind, err := ParseKind(d.Type, d.Options)
	if err != nil {
		return fmt.Errorf("field %q: %w", d.ID, err)
	}
	*f = Field{
		ID:       d.ID,
		Label:    d.Label,
		Question: d.Question,
		Kind:     kind,
		Required: d.Required,
		Hint:     d.Hint,
		Unit:     d.Unit,
	}
	return nil
}

func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	var d fieldDoc
	if err := node.Decode(&d); err != nil {
		return err
	}
	return f.fromDoc(d)
}

func (f Field) MarshalYAML() (any, error) {
	return f.doc(), nil
}

func (f Field) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.doc())
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var d fieldDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	return f.fromDoc(d)
}

// Flatten concatenates the fields of forms in form order.
func Flatten(forms []Form) []Field {
	var out []Field
	for _, f := range forms {
		out = append(out, f.Fields...)
	}
	return out
}
