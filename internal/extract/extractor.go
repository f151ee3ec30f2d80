package extract

import (
	"context"
	"fmt"

	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/session"
	"github.com/keshucs12345/taxvoice/internal/turn"
)

const defaultTemperature = 0.7

// Extractor implements form detection and field collection on top of an
// LLMClient.
type Extractor struct {
	llm         LLMClient
	forms       []forms.Form
	temperature float64
	logger      *logging.Logger
}

type Option func(*Extractor)

func WithTemperature(t float64) Option {
	return func(e *Extractor) { e.temperature = t }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Extractor) { e.logger = l.Component("extract") }
}

// NewExtractor offers every form of catalog to the detection prompt.
func NewExtractor(llm LLMClient, catalog *forms.Catalog, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         llm,
		forms:       catalog.All(),
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default().Component("extract")
	}
	return e
}

var (
	_ turn.FormDetector   = (*Extractor)(nil)
	_ turn.FieldCollector = (*Extractor)(nil)
)

func (e *Extractor) DetectForms(ctx context.Context, history []session.Message) (turn.Detection, error) {
	resp, err := e.llm.Complete(ctx, Request{
		System:      detectionPrompt(e.forms),
		Messages:    chatHistory(history),
		Temperature: e.temperature,
	})
	if err != nil {
		return turn.Detection{}, fmt.Errorf("detect forms: %w", err)
	}
	det, err := ParseDetection(resp.Text)
	if err != nil {
		e.logger.Warn("unparseable detection answer", "error", err.Error())
		return turn.Detection{}, err
	}
	e.logger.Debug("forms detected", "form_ids", det.FormIDs)
	return det, nil
}

func (e *Extractor) CollectField(ctx context.Context, req turn.CollectRequest) (turn.Collection, error) {
	resp, err := e.llm.Complete(ctx, Request{
		System:      collectionPrompt(req),
		Messages:    chatHistory(req.History),
		Temperature: e.temperature,
	})
	if err != nil {
		return turn.Collection{}, fmt.Errorf("collect %s: %w", req.Field.ID, err)
	}
	col, err := ParseCollection(resp.Text, req.Field)
	if err != nil {
		e.logger.Warn("unparseable collection answer", "field_id", req.Field.ID, "error", err.Error())
		return turn.Collection{}, err
	}
	return col, nil
}

func chatHistory(history []session.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		role := ChatRoleUser
		if m.Role == session.RoleAssistant {
			role = ChatRoleAssistant
		}
		out = append(out, ChatMessage{Role: role, Content: m.Content})
	}
	return out
}
