// Package export renders the collected answers as a downloadable summary.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/keshucs12345/taxvoice/internal/forms"
)

const (
	Title    = "Steuererklärung 2025"
	Subtitle = "Zusammenfassung der gesammelten Informationen"
	Footer   = "Diese Zusammenfassung wurde mit dem Steuer-Assistenten erstellt. Bitte prüfen Sie alle Angaben sorgfältig."
	// Missing marks a field without an answer.
	Missing  = "—"
	basename = "Steuererklarung_2025_Zusammenfassung"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts "markdown", "md" and "json"; empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// Document is a rendered summary ready for download.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Render produces the summary in format. It has no side effects.
func Render(format Format, selected []forms.Form, collected map[string]forms.Value, at time.Time) (Document, error) {
	switch format {
	case FormatMarkdown:
		return Document{
			Filename:    basename + ".md",
			ContentType: "text/markdown; charset=utf-8",
			Body:        Markdown(selected, collected, at),
		}, nil
	case FormatJSON:
		body, err := JSON(selected, collected, at)
		if err != nil {
			return Document{}, err
		}
		return Document{
			Filename:    basename + ".json",
			ContentType: "application/json",
			Body:        body,
		}, nil
	}
	return Document{}, fmt.Errorf("export: unknown format %q", format)
}

// Markdown lists every field of every selected form in order, with "—" for
// fields without an answer.
func Markdown(selected []forms.Form, collected map[string]forms.Value, at time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\nErstellt am: %s\n", Title, Subtitle, FormatDate(at))
	for _, form := range selected {
		fmt.Fprintf(&b, "\n## %s\n\n", form.Name)
		if len(form.Fields) == 0 {
			b.WriteString("_Keine Angaben erforderlich._\n")
			continue
		}
		b.WriteString("| Feld | Angabe |\n|---|---|\n")
		for _, field := range form.Fields {
			fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(field.Label), escapeCell(display(field, collected)))
		}
	}
	fmt.Fprintf(&b, "\n---\n\n_%s_\n", Footer)
	return []byte(b.String())
}

type jsonDocument struct {
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	Forms     []jsonForm `json:"forms"`
}

type jsonForm struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Fields []jsonField `json:"fields"`
}

type jsonField struct {
	ID      string       `json:"id"`
	Label   string       `json:"label"`
	Value   *forms.Value `json:"value"`
	Display string       `json:"display"`
}

// JSON is the machine-readable counterpart of Markdown. Unanswered fields
// carry a null value.
func JSON(selected []forms.Form, collected map[string]forms.Value, at time.Time) ([]byte, error) {
	doc := jsonDocument{Title: Title, CreatedAt: at.UTC(), Forms: make([]jsonForm, 0, len(selected))}
	for _, form := range selected {
		jf := jsonForm{ID: form.ID, Name: form.Name, Fields: make([]jsonField, 0, len(form.Fields))}
		for _, field := range form.Fields {
			f := jsonField{ID: field.ID, Label: field.Label, Display: display(field, collected)}
			if v, ok := collected[field.ID]; ok {
				f.Value = &v
			}
			jf.Fields = append(jf.Fields, f)
		}
		doc.Forms = append(doc.Forms, jf)
	}
	return json.MarshalIndent(doc, "", "  ")
}

var printer = message.NewPrinter(language.German)

// FormatValue renders v the way a German reader expects it: Ja/Nein for
// booleans, grouped numbers followed by the field's unit.
func FormatValue(field forms.Field, v forms.Value) string {
	if b, ok := v.AsBool(); ok {
		if b {
			return "Ja"
		}
		return "Nein"
	}
	if n, ok := v.AsNumber(); ok {
		s := printer.Sprintf("%v", number.Decimal(n, number.MaxFractionDigits(2)))
		if field.Unit != "" {
			s += " " + field.Unit
		}
		return s
	}
	return v.String()
}

// FormatDate renders t like a de-DE short date, e.g. 6.1.2026.
func FormatDate(t time.Time) string {
	return t.Format("2.1.2006")
}

func display(field forms.Field, collected map[string]forms.Value) string {
	v, ok := collected[field.ID]
	if !ok || !v.IsValid() {
		return Missing
	}
	return FormatValue(field, v)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
