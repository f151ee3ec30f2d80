package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/session"
)

const greeting = "Guten Tag! Welche Einkünfte haben Sie?"

type fakeDetector struct {
	results []Detection
	errs    []error
	calls   [][]session.Message
}

func (f *fakeDetector) DetectForms(ctx context.Context, history []session.Message) (Detection, error) {
	i := len(f.calls)
	f.calls = append(f.calls, append([]session.Message(nil), history...))
	if i < len(f.errs) && f.errs[i] != nil {
		return Detection{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return Detection{Reply: "Erzählen Sie mehr."}, nil
}

type fakeCollector struct {
	results []Collection
	errs    []error
	reqs    []CollectRequest
	block   bool
}

func (f *fakeCollector) CollectField(ctx context.Context, req CollectRequest) (Collection, error) {
	i := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if f.block {
		<-ctx.Done()
		return Collection{}, ctx.Err()
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return Collection{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return Collection{Reply: "Danke."}, nil
}

func valuePtr(v forms.Value) *forms.Value { return &v }

func testCatalog(t *testing.T) *forms.Catalog {
	t.Helper()
	cat, err := forms.NewCatalog(
		forms.Form{ID: "est_1_a", Name: "ESt 1 A", Fields: []forms.Field{
			{ID: "A", Question: "Wie hoch war Ihr Bruttoarbeitslohn?", Kind: forms.NumberKind{}},
			{ID: "B", Question: "Sind Sie kirchensteuerpflichtig?", Kind: forms.BooleanKind{}},
		}},
		forms.Form{ID: "anlage_n", Name: "Anlage N", Fields: []forms.Field{
			{ID: "C", Question: "Wie viele Kilometer?", Kind: forms.NumberKind{}},
		}},
		forms.Form{ID: "leer", Name: "Leer"},
	)
	require.NoError(t, err)
	return cat
}

func quietLogger() *logging.Logger { return logging.New("error") }

func detectingState() session.State {
	s := session.New()
	_ = s.BeginDetection(greeting)
	return s
}

func collectingState(t *testing.T, cat *forms.Catalog, cursor int) session.State {
	t.Helper()
	s := detectingState()
	est, _ := cat.Lookup("est_1_a")
	require.NoError(t, s.SelectForms([]forms.Form{est}))
	s.FieldCursor = cursor
	return s
}

func TestDetectionWithoutFormsKeepsAsking(t *testing.T) {
	det := &fakeDetector{results: []Detection{{Reply: "Verstanden."}}}
	p := NewProcessor(det, &fakeCollector{}, testCatalog(t), WithLogger(quietLogger()))

	in := detectingState()
	out, reply, err := p.Process(context.Background(), in, "Ich bin angestellt")
	require.NoError(t, err)

	assert.Equal(t, session.DetectingForm, out.Phase)
	assert.Equal(t, "Verstanden.", reply)
	assert.Equal(t, []session.Message{
		{Role: session.RoleAssistant, Content: greeting},
		{Role: session.RoleUser, Content: "Ich bin angestellt"},
		{Role: session.RoleAssistant, Content: "Verstanden."},
	}, out.Messages)
	assert.Len(t, in.Messages, 1, "input state must not be mutated")

	require.Len(t, det.calls, 1)
	assert.Equal(t, out.Messages[:2], det.calls[0], "detector sees the history up to the user message")
}

func TestFormSelectionStartsCollecting(t *testing.T) {
	cat := testCatalog(t)
	det := &fakeDetector{results: []Detection{{Reply: "Gut.", FormIDs: []string{"est_1_a"}}}}
	p := NewProcessor(det, &fakeCollector{}, cat, WithLogger(quietLogger()))

	out, reply, err := p.Process(context.Background(), detectingState(), "Ich bin angestellt")
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	est, _ := cat.Lookup("est_1_a")
	assert.Equal(t, session.Collecting, out.Phase)
	assert.Equal(t, est.Fields, out.Fields)
	assert.Equal(t, 0, out.FieldCursor)
	assert.Equal(t, "Gut. "+TransitionSentence+" Wie hoch war Ihr Bruttoarbeitslohn?", reply)
	assert.Contains(t, reply, est.Fields[0].Question)

	last := out.Messages[len(out.Messages)-1]
	assert.Equal(t, session.Message{Role: session.RoleAssistant, Content: est.Fields[0].Question}, last)
}

func TestCollectionRecordsAndAdvances(t *testing.T) {
	cat := testCatalog(t)
	col := &fakeCollector{results: []Collection{{
		Reply: "Danke, 45000 Euro notiert. Nächste Frage...",
		Value: valuePtr(forms.NumberValue(45000)),
	}}}
	p := NewProcessor(&fakeDetector{}, col, cat, WithLogger(quietLogger()), WithQuestionPolicy(PolicyExtractor))

	out, reply, err := p.Process(context.Background(), collectingState(t, cat, 0), "45000 Euro")
	require.NoError(t, err)

	assert.Equal(t, forms.NumberValue(45000), out.Collected["A"])
	assert.Equal(t, 1, out.FieldCursor)
	assert.Equal(t, session.Collecting, out.Phase)
	assert.Equal(t, "Danke, 45000 Euro notiert. Nächste Frage...", reply)

	require.Len(t, col.reqs, 1)
	req := col.reqs[0]
	assert.Equal(t, "A", req.Field.ID)
	require.NotNil(t, req.Next)
	assert.Equal(t, "B", req.Next.ID)
	assert.True(t, req.AskNext)
}

func TestLastFieldCompletesSession(t *testing.T) {
	cat := testCatalog(t)
	col := &fakeCollector{results: []Collection{{
		Reply: "Vielen Dank, alles erfasst.",
		Value: valuePtr(forms.BoolValue(true)),
	}}}
	p := NewProcessor(&fakeDetector{}, col, cat, WithLogger(quietLogger()), WithQuestionPolicy(PolicyExtractor))

	out, reply, err := p.Process(context.Background(), collectingState(t, cat, 1), "Ja")
	require.NoError(t, err)

	assert.Equal(t, forms.BoolValue(true), out.Collected["B"])
	assert.Equal(t, session.Complete, out.Phase)
	assert.Equal(t, 1, out.FieldCursor)
	assert.Equal(t, "Vielen Dank, alles erfasst.", reply)
	assert.Nil(t, col.reqs[0].Next)
}

func TestUnknownFormIDsAreDropped(t *testing.T) {
	det := &fakeDetector{results: []Detection{{Reply: "OK", FormIDs: []string{"nonexistent_form"}}}}
	p := NewProcessor(det, &fakeCollector{}, testCatalog(t), WithLogger(quietLogger()))

	out, reply, err := p.Process(context.Background(), detectingState(), "Ich habe gespendet")
	require.NoError(t, err)
	assert.Equal(t, session.DetectingForm, out.Phase)
	assert.Empty(t, out.Fields)
	assert.Empty(t, out.SelectedForms)
	assert.Equal(t, "OK", reply)
}

func TestDetectionKeepsRequestedOrderAndSkipsUnknown(t *testing.T) {
	det := &fakeDetector{results: []Detection{{Reply: "Gut.", FormIDs: []string{"anlage_n", "ghost", "est_1_a"}}}}
	p := NewProcessor(det, &fakeCollector{}, testCatalog(t), WithLogger(quietLogger()))

	out, _, err := p.Process(context.Background(), detectingState(), "angestellt, pendle täglich")
	require.NoError(t, err)
	require.Len(t, out.SelectedForms, 2)
	assert.Equal(t, "anlage_n", out.SelectedForms[0].ID)
	assert.Equal(t, "est_1_a", out.SelectedForms[1].ID)
	assert.Equal(t, []string{"C", "A", "B"}, fieldIDs(out.Fields))
}

func TestDetectionWithFieldlessFormsLeavesStuckState(t *testing.T) {
	det := &fakeDetector{results: []Detection{{Reply: "Gut.", FormIDs: []string{"leer"}}}}
	col := &fakeCollector{}
	p := NewProcessor(det, col, testCatalog(t), WithLogger(quietLogger()))

	out, reply, err := p.Process(context.Background(), detectingState(), "nichts")
	require.NoError(t, err)
	assert.Equal(t, session.Collecting, out.Phase)
	assert.True(t, out.Stuck())
	assert.Equal(t, "Gut. "+TransitionSentence, reply)

	again, reply, err := p.Process(context.Background(), out, "hallo?")
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Equal(t, session.Collecting, again.Phase)
	assert.Equal(t, out.FieldCursor, again.FieldCursor)
	assert.Empty(t, col.reqs, "no external call without a current field")
}

func TestLocalPolicyAppendsNextQuestionAndClosing(t *testing.T) {
	cat := testCatalog(t)
	col := &fakeCollector{results: []Collection{
		{Reply: "Danke.", Value: valuePtr(forms.NumberValue(45000))},
		{Reply: "Alles klar.", Value: valuePtr(forms.BoolValue(false))},
	}}
	p := NewProcessor(&fakeDetector{}, col, cat, WithLogger(quietLogger()))

	s, reply, err := p.Process(context.Background(), collectingState(t, cat, 0), "45.000")
	require.NoError(t, err)
	assert.Equal(t, "Danke. Sind Sie kirchensteuerpflichtig?", reply)
	assert.False(t, col.reqs[0].AskNext)
	assert.Equal(t, "Sind Sie kirchensteuerpflichtig?", s.Messages[len(s.Messages)-1].Content)

	s, reply, err = p.Process(context.Background(), s, "Nein")
	require.NoError(t, err)
	assert.Equal(t, session.Complete, s.Phase)
	assert.Equal(t, "Alles klar. "+ClosingSentence, reply)
}

func TestNullValueAdvancesWithoutRecording(t *testing.T) {
	cat := testCatalog(t)
	col := &fakeCollector{results: []Collection{{Reply: "Kein Problem, wir überspringen das."}}}
	p := NewProcessor(&fakeDetector{}, col, cat, WithLogger(quietLogger()))

	out, _, err := p.Process(context.Background(), collectingState(t, cat, 0), "weiß ich nicht")
	require.NoError(t, err)
	assert.Empty(t, out.Collected)
	assert.Equal(t, 1, out.FieldCursor)
}

func TestExternalFailureLeavesStateAndAllowsRetry(t *testing.T) {
	cat := testCatalog(t)
	col := &fakeCollector{
		errs:    []error{errors.New("503 upstream")},
		results: []Collection{{}, {Reply: "Danke.", Value: valuePtr(forms.NumberValue(1))}},
	}
	p := NewProcessor(&fakeDetector{}, col, cat, WithLogger(quietLogger()))

	in := collectingState(t, cat, 0)
	failed, reply, err := p.Process(context.Background(), in, "45000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)
	var ese *ExternalServiceError
	require.ErrorAs(t, err, &ese)
	assert.Contains(t, ese.Op, "A")
	assert.Empty(t, reply)

	assert.Equal(t, in.Phase, failed.Phase)
	assert.Equal(t, in.FieldCursor, failed.FieldCursor)
	assert.Equal(t, in.Collected, failed.Collected)
	assert.Len(t, failed.Messages, len(in.Messages)+1, "user message is kept")

	retried, _, err := p.Process(context.Background(), failed, "45000")
	require.NoError(t, err)
	assert.Equal(t, 1, retried.FieldCursor)
	assert.Equal(t, forms.NumberValue(1), retried.Collected["A"])
}

func TestDetectionFailureAndEmptyReply(t *testing.T) {
	det := &fakeDetector{
		errs:    []error{errors.New("boom"), nil},
		results: []Detection{{}, {Reply: "   "}},
	}
	p := NewProcessor(det, &fakeCollector{}, testCatalog(t), WithLogger(quietLogger()))

	in := detectingState()
	out, _, err := p.Process(context.Background(), in, "Hallo")
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, session.DetectingForm, out.Phase)

	out, _, err = p.Process(context.Background(), out, "Hallo")
	assert.ErrorIs(t, err, ErrExternalService, "an empty reply is unusable")
	assert.Len(t, out.Messages, 3)
}

func TestCallTimeoutBecomesExternalServiceError(t *testing.T) {
	cat := testCatalog(t)
	col := &fakeCollector{block: true}
	p := NewProcessor(&fakeDetector{}, col, cat, WithLogger(quietLogger()), WithCallTimeout(20*time.Millisecond))

	_, _, err := p.Process(context.Background(), collectingState(t, cat, 0), "45000")
	assert.ErrorIs(t, err, ErrExternalService)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPreconditions(t *testing.T) {
	p := NewProcessor(&fakeDetector{}, &fakeCollector{}, testCatalog(t), WithLogger(quietLogger()))

	s := detectingState()
	out, _, err := p.Process(context.Background(), s, "   ")
	assert.ErrorIs(t, err, ErrEmptyUtterance)
	assert.Equal(t, s, out)

	_, _, err = p.Process(context.Background(), session.New(), "Hallo")
	assert.ErrorIs(t, err, ErrInvalidPhase)

	done := session.New()
	done.Phase = session.Complete
	_, _, err = p.Process(context.Background(), done, "Hallo")
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

// Walks a full session and checks the monotonicity properties after every turn.
func TestFullSessionProperties(t *testing.T) {
	cat := testCatalog(t)
	det := &fakeDetector{results: []Detection{
		{Reply: "Erzählen Sie mehr."},
		{Reply: "Gut.", FormIDs: []string{"est_1_a", "anlage_n"}},
	}}
	col := &fakeCollector{
		errs: []error{nil, errors.New("timeout")},
		results: []Collection{
			{Reply: "Danke.", Value: valuePtr(forms.NumberValue(52000))},
			{},
			{Reply: "Notiert.", Value: valuePtr(forms.BoolValue(true))},
			{Reply: "Danke.", Value: valuePtr(forms.NumberValue(17))},
		},
	}
	p := NewProcessor(det, col, cat, WithLogger(quietLogger()))

	s := detectingState()
	utterances := []string{"Hallo", "Ich bin angestellt", "52000", "ja", "ja", "17 km"}
	for _, u := range utterances {
		before := s
		next, _, err := p.Process(context.Background(), s, u)
		if err != nil {
			require.ErrorIs(t, err, ErrExternalService)
		}
		require.NoError(t, next.Validate())
		assert.GreaterOrEqual(t, int(next.Phase), int(before.Phase), "phase never regresses")
		assert.Greater(t, len(next.Messages), len(before.Messages))
		if before.Phase == session.Collecting && next.Phase == session.Collecting {
			delta := next.FieldCursor - before.FieldCursor
			assert.Contains(t, []int{0, 1}, delta)
		}
		s = next
	}

	assert.Equal(t, session.Complete, s.Phase)
	assert.Equal(t, map[string]forms.Value{
		"A": forms.NumberValue(52000),
		"B": forms.BoolValue(true),
		"C": forms.NumberValue(17),
	}, s.Collected)
}

func TestParseQuestionPolicy(t *testing.T) {
	p, err := ParseQuestionPolicy("Extractor")
	require.NoError(t, err)
	assert.Equal(t, PolicyExtractor, p)
	p, err = ParseQuestionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyLocal, p)
	_, err = ParseQuestionPolicy("random")
	assert.Error(t, err)
}

func fieldIDs(fields []forms.Field) []string {
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = f.ID
	}
	return ids
}
