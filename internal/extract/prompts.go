package extract

import (
	"fmt"
	"strings"

	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/turn"
)

const assistantPersona = `Du bist ein freundlicher deutscher Steuerberater-Assistent namens "TaxBot".
Sprich den Nutzer immer mit "Sie" an und antworte auf Deutsch. Deine Antworten werden vorgelesen: keine Aufzählungszeichen, kein Markdown.`

func detectionPrompt(all []forms.Form) string {
	var b strings.Builder
	b.WriteString(assistantPersona)
	b.WriteString("\n\nFinde in einem kurzen Gespräch heraus, welche Steuerformulare der Nutzer für 2025 ausfüllen muss.\n\nVerfügbare Formulare:\n")
	for _, f := range all {
		fmt.Fprintf(&b, "- %s: %s (%s). Stichworte: %s\n", f.ID, f.Name, f.Description, strings.Join(f.TriggerKeywords, ", "))
	}
	b.WriteString(`
Stelle höchstens zwei bis drei kurze Fragen zur Situation des Nutzers.

Sobald du genug weißt, hänge an deine freundliche Antwort genau diesen Block an:
` + formsOpen + `
{"selectedForms": ["form_id_1", "form_id_2"]}
` + formsClose + `

Verwende nur IDs aus der Liste oben. Wähle immer mindestens "est_1_a" (Hauptvordruck) und ergänze weitere Formulare, wenn sie passen.
Solange du noch Informationen brauchst, lass den Block weg.`)
	return b.String()
}

func collectionPrompt(req turn.CollectRequest) string {
	f := req.Field
	var b strings.Builder
	b.WriteString(assistantPersona)
	fmt.Fprintf(&b, "\n\nDu hast dem Nutzer soeben diese Frage gestellt: %q\nFeld-ID: %s\nFeldtyp: %s\n", f.Question, f.ID, f.Kind.Name())
	if choices := forms.Choices(f.Kind); len(choices) > 0 {
		fmt.Fprintf(&b, "Mögliche Werte: %s\n", strings.Join(choices, ", "))
	}
	if f.Hint != "" {
		fmt.Fprintf(&b, "Hinweis: %s\n", f.Hint)
	}

	b.WriteString("\nDer Nutzer hat gerade geantwortet.\n1. Bestätige die Antwort in einem kurzen, freundlichen Satz.\n")
	switch {
	case !req.AskNext:
		b.WriteString("2. Stelle KEINE weitere Frage und verabschiede dich nicht; die nächste Frage stellt das System selbst.\n")
	case req.Next != nil:
		fmt.Fprintf(&b, "2. Stelle danach direkt die nächste Frage: %q\n", req.Next.Question)
	default:
		b.WriteString("2. Dies war die letzte Frage. Bedanke dich herzlich und sage, dass alle Angaben gesammelt sind und die Zusammenfassung jetzt heruntergeladen werden kann.\n")
	}

	fmt.Fprintf(&b, `
Füge am Ende IMMER diesen Block ein, danach kein weiterer Text:
%s
{"fieldId": %q, "value": WERT}
%s

Regeln für WERT:
- Zahl: nur die Zahl, z.B. 45000, ohne Anführungszeichen und ohne Tausenderpunkte
- Ja/Nein: true oder false
- Text, Datum, Auswahl: als JSON-String
- Wenn der Nutzer überspringen möchte oder die Antwort unklar ist: null`, valueOpen, f.ID, valueClose)
	return b.String()
}
