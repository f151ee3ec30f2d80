package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/turn"
)

const (
	formsOpen  = "<FORMS_SELECTED>"
	formsClose = "</FORMS_SELECTED>"
	valueOpen  = "<VALUE>"
	valueClose = "</VALUE>"
)

var (
	formsBlock = regexp.MustCompile(`(?s)<FORMS_SELECTED>(.*?)</FORMS_SELECTED>`)
	valueBlock = regexp.MustCompile(`(?s)<VALUE>(.*?)</VALUE>`)
	codeFence  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// ErrMalformedPayload is wrapped by every payload parsing failure.
var ErrMalformedPayload = errors.New("extract: malformed payload")

type formsPayload struct {
	SelectedForms []string `json:"selectedForms"`
}

type valuePayload struct {
	FieldID string          `json:"fieldId"`
	Value   json.RawMessage `json:"value"`
}

// ParseDetection splits a detection answer into the spoken reply and the
// optional form selection. A missing block means "keep asking"; a block
// that does not decode is an error.
func ParseDetection(text string) (turn.Detection, error) {
	body, found, err := extractBlock(text, formsBlock, formsOpen, formsClose)
	if err != nil {
		return turn.Detection{}, err
	}
	det := turn.Detection{Reply: stripBlocks(text, formsBlock)}
	if !found {
		return det, nil
	}
	var p formsPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return turn.Detection{}, fmt.Errorf("%w: forms block: %v", ErrMalformedPayload, err)
	}
	for _, id := range p.SelectedForms {
		if id = strings.TrimSpace(id); id != "" {
			det.FormIDs = append(det.FormIDs, id)
		}
	}
	return det, nil
}

// ParseCollection splits a collection answer into the spoken reply and the
// extracted value of field. The value block is mandatory.
func ParseCollection(text string, field forms.Field) (turn.Collection, error) {
	body, found, err := extractBlock(text, valueBlock, valueOpen, valueClose)
	if err != nil {
		return turn.Collection{}, err
	}
	if !found {
		return turn.Collection{}, fmt.Errorf("%w: missing %s block", ErrMalformedPayload, valueOpen)
	}
	var p valuePayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return turn.Collection{}, fmt.Errorf("%w: value block: %v", ErrMalformedPayload, err)
	}
	if p.FieldID != "" && p.FieldID != field.ID {
		return turn.Collection{}, fmt.Errorf("%w: value for field %q, expected %q", ErrMalformedPayload, p.FieldID, field.ID)
	}
	v, err := forms.ParseValue(p.Value)
	if err != nil {
		return turn.Collection{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if v != nil {
		normalized := normalize(*v, field.Kind)
		v = &normalized
	}
	return turn.Collection{Reply: stripBlocks(text, valueBlock), Value: v}, nil
}

func extractBlock(text string, re *regexp.Regexp, open, close string) (string, bool, error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		if strings.Contains(text, open) {
			return "", false, fmt.Errorf("%w: unterminated %s block", ErrMalformedPayload, open)
		}
		return "", false, nil
	}
	body := strings.TrimSpace(m[1])
	if fm := codeFence.FindStringSubmatch(body); fm != nil {
		body = fm[1]
	}
	return body, true, nil
}

func stripBlocks(text string, re *regexp.Regexp) string {
	return strings.TrimSpace(re.ReplaceAllString(text, ""))
}

// normalize maps obvious string renderings onto the field's kind. Anything
// it cannot interpret is kept as extracted.
func normalize(v forms.Value, kind forms.Kind) forms.Value {
	s, ok := v.AsString()
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	switch k := kind.(type) {
	case forms.NumberKind:
		if n, ok := parseGermanNumber(s); ok {
			return forms.NumberValue(n)
		}
	case forms.BooleanKind:
		switch strings.ToLower(s) {
		case "ja", "true", "yes":
			return forms.BoolValue(true)
		case "nein", "false", "no":
			return forms.BoolValue(false)
		}
	case forms.SelectKind:
		for _, c := range k.Choices {
			if strings.EqualFold(c, s) {
				return forms.StringValue(c)
			}
		}
	}
	return v
}

// parseGermanNumber accepts "45000", "45.000", "45.000,50" and "1234,5",
// optionally followed by "€" or "Euro".
func parseGermanNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(s), "Euro"), "€"))
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else if strings.Count(s, ".") > 1 || (strings.Count(s, ".") == 1 && len(s)-strings.Index(s, ".") == 4) {
		s = strings.ReplaceAll(s, ".", "")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
