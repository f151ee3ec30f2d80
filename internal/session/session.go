// Package session holds the conversation state of one form-filling session.
package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/keshucs12345/taxvoice/internal/forms"
)

// Phase is the conversation phase. Phases only move forward, except for a
// reset back to Welcome.
type Phase int

const (
	Welcome Phase = iota
	DetectingForm
	Collecting
	Complete
)

func (p Phase) String() string {
	switch p {
	case Welcome:
		return "welcome"
	case DetectingForm:
		return "detecting_form"
	case Collecting:
		return "collecting"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the transcript sent to the extractor.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the single source of truth for one conversation. Messages is
// append-only; SelectedForms and Fields are set once when detection succeeds.
type State struct {
	Phase         Phase                  `json:"phase"`
	Messages      []Message              `json:"messages"`
	SelectedForms []forms.Form           `json:"selectedForms"`
	Fields        []forms.Field          `json:"fields"`
	FieldCursor   int                    `json:"fieldCursor"`
	Collected     map[string]forms.Value `json:"collected"`
}

// New returns the initial state: Welcome with all collections empty.
func New() State {
	return State{
		Phase:     Welcome,
		Collected: map[string]forms.Value{},
	}
}

// Reset reinstates the initial state.
func (s *State) Reset() {
	*s = New()
}

// Clone returns a deep copy. Form and field definitions are immutable and
// shared.
func (s State) Clone() State {
	c := s
	c.Messages = slices.Clone(s.Messages)
	c.SelectedForms = slices.Clone(s.SelectedForms)
	c.Fields = slices.Clone(s.Fields)
	c.Collected = maps.Clone(s.Collected)
	if c.Collected == nil {
		c.Collected = map[string]forms.Value{}
	}
	return c
}

func (s *State) AppendUser(text string) {
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: text})
}

func (s *State) AppendAssistant(text string) {
	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: text})
}

// BeginDetection moves Welcome to DetectingForm and records the greeting.
func (s *State) BeginDetection(greeting string) error {
	if s.Phase != Welcome {
		return fmt.Errorf("session: cannot begin detection in phase %s", s.Phase)
	}
	s.Phase = DetectingForm
	s.AppendAssistant(greeting)
	return nil
}

// SelectForms fixes the selected forms and their flattened fields and moves
// to Collecting with the cursor on the first field.
func (s *State) SelectForms(selected []forms.Form) error {
	if s.Phase != DetectingForm {
		return fmt.Errorf("session: cannot select forms in phase %s", s.Phase)
	}
	if len(selected) == 0 {
		return errors.New("session: no forms selected")
	}
	s.SelectedForms = slices.Clone(selected)
	s.Fields = forms.Flatten(selected)
	s.FieldCursor = 0
	s.Phase = Collecting
	return nil
}

// CurrentField returns the field under the cursor while collecting.
func (s State) CurrentField() (forms.Field, bool) {
	if s.Phase != Collecting || s.FieldCursor < 0 || s.FieldCursor >= len(s.Fields) {
		return forms.Field{}, false
	}
	return s.Fields[s.FieldCursor], true
}

// NextField returns the field after the cursor, if any.
func (s State) NextField() (forms.Field, bool) {
	i := s.FieldCursor + 1
	if i >= len(s.Fields) {
		return forms.Field{}, false
	}
	return s.Fields[i], true
}

func (s State) IsLastField() bool {
	return len(s.Fields) > 0 && s.FieldCursor == len(s.Fields)-1
}

// Stuck reports a Collecting state without a current field, which happens
// when the selected forms have no fields at all.
func (s State) Stuck() bool {
	_, ok := s.CurrentField()
	return s.Phase == Collecting && !ok
}

// Record stores value for fieldID, overwriting any previous answer.
func (s *State) Record(fieldID string, value forms.Value) error {
	if !slices.ContainsFunc(s.Fields, func(f forms.Field) bool { return f.ID == fieldID }) {
		return fmt.Errorf("session: unknown field %q", fieldID)
	}
	if s.Collected == nil {
		s.Collected = map[string]forms.Value{}
	}
	s.Collected[fieldID] = value
	return nil
}

// Advance moves the cursor to the next field. It never passes the last field.
func (s *State) Advance() error {
	if s.Phase != Collecting {
		return fmt.Errorf("session: cannot advance in phase %s", s.Phase)
	}
	if s.FieldCursor+1 >= len(s.Fields) {
		return errors.New("session: cursor already on last field")
	}
	s.FieldCursor++
	return nil
}

// Finish moves Collecting to Complete. The cursor is left where it is.
func (s *State) Finish() error {
	if s.Phase != Collecting {
		return fmt.Errorf("session: cannot finish in phase %s", s.Phase)
	}
	s.Phase = Complete
	return nil
}

// Validate checks the structural invariants of the state.
func (s State) Validate() error {
	var errs []error
	selecting := s.Phase == Welcome || s.Phase == DetectingForm
	if selecting && (len(s.SelectedForms) > 0 || len(s.Fields) > 0) {
		errs = append(errs, fmt.Errorf("forms selected in phase %s", s.Phase))
	}
	if !selecting && len(s.SelectedForms) == 0 {
		errs = append(errs, fmt.Errorf("no forms selected in phase %s", s.Phase))
	}
	if s.FieldCursor < 0 || s.FieldCursor > len(s.Fields) {
		errs = append(errs, fmt.Errorf("field cursor %d out of range [0,%d]", s.FieldCursor, len(s.Fields)))
	}
	if selecting && s.FieldCursor != 0 {
		errs = append(errs, fmt.Errorf("field cursor %d set in phase %s", s.FieldCursor, s.Phase))
	}
	ids := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		ids[f.ID] = true
	}
	for id := range s.Collected {
		if !ids[id] {
			errs = append(errs, fmt.Errorf("collected value for unknown field %q", id))
		}
	}
	if s.Phase == Welcome && len(s.Messages) > 0 {
		errs = append(errs, errors.New("messages recorded before the conversation started"))
	}
	return errors.Join(errs...)
}
