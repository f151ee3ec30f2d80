// Package turn turns one user utterance into the next session state and the
// assistant's reply.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/metrics"
	"github.com/keshucs12345/taxvoice/internal/session"
)

const (
	// TransitionSentence follows the detection reply once forms are chosen.
	TransitionSentence = "Gut, ich habe die passenden Formulare für Sie ausgewählt. Fangen wir an!"
	// ClosingSentence ends the collection under PolicyLocal.
	ClosingSentence = "Vielen Dank, damit habe ich alle Angaben gesammelt. Sie können jetzt Ihre Zusammenfassung herunterladen."
)

// QuestionPolicy decides who phrases the next question during collection.
type QuestionPolicy int

const (
	// PolicyLocal appends the next question (or the closing sentence) to the
	// extractor's acknowledgement, as the detection branch does.
	PolicyLocal QuestionPolicy = iota
	// PolicyExtractor uses the extractor's reply verbatim; the extractor is
	// asked to include the next question itself.
	PolicyExtractor
)

func ParseQuestionPolicy(s string) (QuestionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return PolicyLocal, nil
	case "extractor":
		return PolicyExtractor, nil
	}
	return PolicyLocal, fmt.Errorf("turn: unknown question policy %q", s)
}

// Processor is stateless: Process maps (state, utterance) to (state, reply)
// and never mutates its input.
type Processor struct {
	detector  FormDetector
	collector FieldCollector
	catalog   Catalog
	policy    QuestionPolicy
	timeout   time.Duration
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Processor)

func WithQuestionPolicy(p QuestionPolicy) Option {
	return func(pr *Processor) { pr.policy = p }
}

// WithCallTimeout bounds each extractor call; zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(pr *Processor) { pr.timeout = d }
}

func WithLogger(l *logging.Logger) Option {
	return func(pr *Processor) { pr.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(pr *Processor) { pr.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(pr *Processor) { pr.tracer = t }
}

func NewProcessor(detector FormDetector, collector FieldCollector, catalog Catalog, opts ...Option) *Processor {
	p := &Processor{
		detector:  detector,
		collector: collector,
		catalog:   catalog,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	p.logger = p.logger.Component("turn")
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/keshucs12345/taxvoice/internal/turn")
	}
	return p
}

// Process handles one utterance. On *ExternalServiceError the returned state
// is the input state plus the user message; phase, cursor and collected
// values are untouched, so retrying with the same utterance is safe.
func (p *Processor) Process(ctx context.Context, state session.State, utterance string) (session.State, string, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return state, "", ErrEmptyUtterance
	}
	if state.Phase != session.DetectingForm && state.Phase != session.Collecting {
		return state, "", fmt.Errorf("%w: %s", ErrInvalidPhase, state.Phase)
	}

	base := state.Clone()
	base.AppendUser(text)

	if state.Phase == session.DetectingForm {
		return p.detect(ctx, base)
	}
	return p.collect(ctx, base)
}

func (p *Processor) detect(ctx context.Context, base session.State) (session.State, string, error) {
	ctx, span := p.tracer.Start(ctx, "turn.detect_forms",
		trace.WithAttributes(attribute.Int("history.len", len(base.Messages))))
	defer span.End()

	det, err := call(ctx, p, "detect", func(ctx context.Context) (Detection, error) {
		return p.detector.DetectForms(ctx, base.Messages)
	})
	if err == nil && strings.TrimSpace(det.Reply) == "" && len(det.FormIDs) == 0 {
		err = errors.New("empty reply without form selection")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detection failed")
		p.logger.Warn("form detection failed", "error", err)
		return base, "", &ExternalServiceError{Op: "detect forms", Err: err}
	}

	reply := strings.TrimSpace(det.Reply)
	out := base.Clone()
	if reply != "" {
		out.AppendAssistant(reply)
	}

	resolved, unknown := p.catalog.Resolve(det.FormIDs)
	if len(unknown) > 0 {
		p.logger.Warn("dropping unknown form ids", "unknown", unknown, "requested", det.FormIDs)
	}
	if len(resolved) == 0 {
		p.logger.Debug("no forms selected yet", "requested", det.FormIDs)
		return out, reply, nil
	}

	if err := out.SelectForms(resolved); err != nil {
		return base, "", err
	}
	ids := make([]string, len(resolved))
	for i, f := range resolved {
		ids[i] = f.ID
	}
	span.SetAttributes(attribute.StringSlice("forms.selected", ids))
	p.logger.Info("forms selected", "forms", ids, "fields", len(out.Fields))

	first, ok := out.CurrentField()
	if !ok {
		p.logger.Warn("selected forms have no fields", "forms", ids)
		return out, joinSentences(reply, TransitionSentence), nil
	}
	out.AppendAssistant(first.Question)
	return out, joinSentences(reply, TransitionSentence, first.Question), nil
}

func (p *Processor) collect(ctx context.Context, base session.State) (session.State, string, error) {
	field, ok := base.CurrentField()
	if !ok {
		p.logger.Warn("collecting without a current field", "cursor", base.FieldCursor, "fields", len(base.Fields))
		return base, "", nil
	}

	ctx, span := p.tracer.Start(ctx, "turn.collect_field",
		trace.WithAttributes(
			attribute.String("field.id", field.ID),
			attribute.String("field.kind", field.Kind.Name()),
			attribute.Int("field.cursor", base.FieldCursor),
		))
	defer span.End()

	req := CollectRequest{
		History: base.Messages,
		Field:   field,
		AskNext: p.policy == PolicyExtractor,
	}
	if next, ok := base.NextField(); ok {
		req.Next = &next
	}

	col, err := call(ctx, p, "collect", func(ctx context.Context) (Collection, error) {
		return p.collector.CollectField(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collection failed")
		p.logger.Warn("field collection failed", "field", field.ID, "error", err)
		return base, "", &ExternalServiceError{Op: "collect field " + field.ID, Err: err}
	}

	out := base.Clone()
	reply := strings.TrimSpace(col.Reply)
	if reply != "" {
		out.AppendAssistant(reply)
	}
	if col.Value != nil {
		if err := out.Record(field.ID, *col.Value); err != nil {
			return base, "", err
		}
		p.metrics.ObserveField("value")
		p.logger.Info("field collected", "field", field.ID, "kind", field.Kind.Name())
	} else {
		p.metrics.ObserveField("skipped")
		p.logger.Info("field skipped", "field", field.ID)
	}

	if out.IsLastField() {
		if err := out.Finish(); err != nil {
			return base, "", err
		}
		if p.policy == PolicyLocal {
			out.AppendAssistant(ClosingSentence)
			reply = joinSentences(reply, ClosingSentence)
		}
		return out, reply, nil
	}

	if err := out.Advance(); err != nil {
		return base, "", err
	}
	if p.policy == PolicyLocal {
		next, _ := out.CurrentField()
		out.AppendAssistant(next.Question)
		reply = joinSentences(reply, next.Question)
	}
	return out, reply, nil
}

// call runs one extractor call under the configured timeout and records its
// latency.
func call[T any](ctx context.Context, p *Processor, name string, fn func(context.Context) (T, error)) (T, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.ObserveExternalCall(name, status, time.Since(start).Seconds())
	return res, err
}

func joinSentences(parts ...string) string {
	var kept []string
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, " ")
}
