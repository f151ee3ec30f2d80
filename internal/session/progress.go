package session

// Progress summarises how far the collection has come.
type Progress struct {
	// Cursor is the zero-based index of the field being asked.
	Cursor   int `json:"cursor"`
	Total    int `json:"total"`
	Answered int `json:"answered"`
	// FormIndex is the index into SelectedForms of the form being filled.
	FormIndex int `json:"formIndex"`
}

// CurrentFormIndex returns the index of the selected form that owns the
// field under the cursor. Past the end it returns the last form.
func (s State) CurrentFormIndex() int {
	count := 0
	for i, f := range s.SelectedForms {
		count += len(f.Fields)
		if s.FieldCursor < count {
			return i
		}
	}
	return max(0, len(s.SelectedForms)-1)
}

func (s State) Progress() Progress {
	return Progress{
		Cursor:    s.FieldCursor,
		Total:     len(s.Fields),
		Answered:  len(s.Collected),
		FormIndex: s.CurrentFormIndex(),
	}
}
