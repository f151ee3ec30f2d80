// Package archive keeps completed sessions for later review.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/session"
)

var ErrNotFound = errors.New("archive: session not found")

// Record is a finished session.
type Record struct {
	ID          string                 `json:"id"`
	CompletedAt time.Time              `json:"completedAt"`
	FormIDs     []string               `json:"formIds"`
	Collected   map[string]forms.Value `json:"collected"`
	Transcript  []session.Message      `json:"transcript"`
}

// Summary is the list view of a Record.
type Summary struct {
	ID          string    `json:"id"`
	CompletedAt time.Time `json:"completedAt"`
	FormIDs     []string  `json:"formIds"`
	Answered    int       `json:"answered"`
}

// FromState builds the record of a completed session.
func FromState(id string, s session.State, at time.Time) Record {
	ids := make([]string, 0, len(s.SelectedForms))
	for _, f := range s.SelectedForms {
		ids = append(ids, f.ID)
	}
	c := s.Clone()
	return Record{
		ID:          id,
		CompletedAt: at,
		FormIDs:     ids,
		Collected:   c.Collected,
		Transcript:  c.Messages,
	}
}

// Store persists records.
type Store interface {
	Save(ctx context.Context, r Record) error
	List(ctx context.Context, limit int) ([]Summary, error)
	Get(ctx context.Context, id string) (Record, error)
	Close() error
}
