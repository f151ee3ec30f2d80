package turn

import (
	"context"

	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/session"
)

// Detection is the result of a form-detection call. Empty FormIDs means the
// extractor needs more information.
type Detection struct {
	Reply   string
	FormIDs []string
}

// FormDetector picks the forms that apply from the conversation so far.
type FormDetector interface {
	DetectForms(ctx context.Context, history []session.Message) (Detection, error)
}

// CollectRequest carries everything the extractor needs to read one answer.
type CollectRequest struct {
	History []session.Message
	Field   forms.Field
	// Next is the following field, nil on the last field.
	Next *forms.Field
	// AskNext tells the extractor to phrase the next question itself.
	AskNext bool
}

// Collection is the result of a field-collection call. A nil Value means
// the user skipped the question or the answer was unclear.
type Collection struct {
	Reply string
	Value *forms.Value
}

// FieldCollector extracts the answer to the current field.
type FieldCollector interface {
	CollectField(ctx context.Context, req CollectRequest) (Collection, error)
}

// Catalog resolves form ids.
type Catalog interface {
	Resolve(ids []string) (resolved []forms.Form, unknown []string)
}
