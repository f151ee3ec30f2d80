package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshucs12345/taxvoice/internal/archive"
	"github.com/keshucs12345/taxvoice/internal/export"
	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/metrics"
	"github.com/keshucs12345/taxvoice/internal/session"
	"github.com/keshucs12345/taxvoice/internal/speech"
	"github.com/keshucs12345/taxvoice/internal/turn"
)

type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	stops   int
	hold    bool
	started chan string
	stopped chan struct{}
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{started: make(chan string, 64), stopped: make(chan struct{}, 1)}
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	hold := s.hold
	s.mu.Unlock()
	select {
	case s.started <- text:
	default:
	}
	if hold {
		select {
		case <-s.stopped:
		case <-ctx.Done():
		}
	}
	return nil
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	s.stops++
	hold := s.hold
	s.mu.Unlock()
	if hold {
		select {
		case s.stopped <- struct{}{}:
		default:
		}
	}
}

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type memoryArchive struct {
	mu      sync.Mutex
	records []archive.Record
}

func (a *memoryArchive) Save(ctx context.Context, r archive.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
	return nil
}

type scriptedDetector struct {
	detections []turn.Detection
	err        error
}

func (s *scriptedDetector) DetectForms(ctx context.Context, history []session.Message) (turn.Detection, error) {
	if s.err != nil {
		return turn.Detection{}, s.err
	}
	d := s.detections[0]
	s.detections = s.detections[1:]
	return d, nil
}

// blockingDetector waits for release and remembers whether its context
// was cancelled meanwhile.
type blockingDetector struct {
	entered   chan struct{}
	release   chan struct{}
	detection turn.Detection
	ctxErr    error
}

func (b *blockingDetector) DetectForms(ctx context.Context, history []session.Message) (turn.Detection, error) {
	close(b.entered)
	<-b.release
	b.ctxErr = ctx.Err()
	if b.ctxErr != nil {
		return turn.Detection{}, b.ctxErr
	}
	return b.detection, nil
}

type scriptedCollector struct {
	values []*forms.Value
}

func (s *scriptedCollector) CollectField(ctx context.Context, req turn.CollectRequest) (turn.Collection, error) {
	v := s.values[0]
	s.values = s.values[1:]
	return turn.Collection{Reply: "Danke.", Value: v}, nil
}

type processorFunc func(ctx context.Context, state session.State, text string) (session.State, string, error)

func (f processorFunc) Process(ctx context.Context, state session.State, text string) (session.State, string, error) {
	return f(ctx, state, text)
}

type transcriberFunc func(ctx context.Context, a speech.Audio) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, a speech.Audio) (string, error) {
	return f(ctx, a)
}

func valuePtr(v forms.Value) *forms.Value { return &v }

func quietLogger() *logging.Logger { return logging.New("error") }

func testCatalog(t *testing.T) *forms.Catalog {
	t.Helper()
	cat, err := forms.NewCatalog(
		forms.Form{ID: "anlage_n", Name: "Anlage N", Fields: []forms.Field{
			{ID: "lohn", Label: "Bruttoarbeitslohn", Question: "Wie hoch war Ihr Bruttoarbeitslohn?", Kind: forms.NumberKind{}, Unit: "€"},
			{ID: "kirche", Label: "Kirchensteuer", Question: "Sind Sie kirchensteuerpflichtig?", Kind: forms.BooleanKind{}},
		}},
		forms.Form{ID: "leer", Name: "Leer"},
	)
	require.NoError(t, err)
	return cat
}

func newDriver(t *testing.T, p TurnProcessor, opts ...Option) (*Driver, *fakeSpeaker) {
	t.Helper()
	sp := newFakeSpeaker()
	opts = append([]Option{
		WithSpeaker(sp),
		WithLogger(quietLogger()),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	}, opts...)
	return New(p, opts...), sp
}

func realProcessor(t *testing.T, det *scriptedDetector, col *scriptedCollector) *turn.Processor {
	return turn.NewProcessor(det, col, testCatalog(t), turn.WithLogger(quietLogger()))
}

func TestStartGreets(t *testing.T) {
	d, sp := newDriver(t, processorFunc(nil))
	require.NoError(t, d.Start(context.Background()))

	snap := d.Snapshot()
	assert.Equal(t, session.DetectingForm, snap.Phase)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.NotEmpty(t, snap.SessionID)
	require.Len(t, snap.State.Messages, 1)
	assert.Equal(t, session.Message{Role: session.RoleAssistant, Content: Greeting}, snap.State.Messages[0])
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, Greeting, snap.Turns[0].Text)
	assert.Equal(t, []string{Greeting}, sp.said())

	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
}

func TestFullConversation(t *testing.T) {
	det := &scriptedDetector{detections: []turn.Detection{
		{Reply: "Sind Sie angestellt?"},
		{Reply: "Gut.", FormIDs: []string{"anlage_n"}},
	}}
	col := &scriptedCollector{values: []*forms.Value{valuePtr(forms.NumberValue(45000)), valuePtr(forms.BoolValue(true))}}
	store := &memoryArchive{}
	d, sp := newDriver(t, realProcessor(t, det, col), WithArchive(store))
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	res, err := d.SubmitUtterance(ctx, "Hallo")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.Equal(t, "Sind Sie angestellt?", res.Reply)
	assert.Equal(t, session.DetectingForm, res.Phase)

	res, err = d.SubmitUtterance(ctx, "  Ja, ich bin angestellt.  ")
	require.NoError(t, err)
	assert.Equal(t, session.Collecting, res.Phase)
	assert.Contains(t, res.Reply, "Wie hoch war Ihr Bruttoarbeitslohn?")

	snap := d.Snapshot()
	require.NotNil(t, snap.CurrentField)
	assert.Equal(t, "lohn", snap.CurrentField.ID)
	assert.Equal(t, []FormSummary{{ID: "anlage_n", Name: "Anlage N"}}, snap.SelectedForms)

	_, err = d.SubmitUtterance(ctx, "45.000 Euro")
	require.NoError(t, err)
	res, err = d.SubmitUtterance(ctx, "Ja")
	require.NoError(t, err)
	assert.Equal(t, session.Complete, res.Phase)
	assert.Contains(t, res.Reply, turn.ClosingSentence)

	snap = d.Snapshot()
	assert.Equal(t, forms.NumberValue(45000), snap.Collected["lohn"])
	assert.Equal(t, 2, snap.Progress.Answered)
	require.Len(t, store.records, 1)
	assert.Equal(t, snap.SessionID, store.records[0].ID)
	assert.Equal(t, []string{"anlage_n"}, store.records[0].FormIDs)

	res, err = d.SubmitUtterance(ctx, "Noch etwas")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, ReasonPhase, res.Reason)

	doc, err := d.Export(export.FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(doc.Body), "45.000 €")

	assert.Len(t, sp.said(), 5)
}

func TestBlankUtteranceIgnored(t *testing.T) {
	called := false
	d, sp := newDriver(t, processorFunc(func(ctx context.Context, s session.State, text string) (session.State, string, error) {
		called = true
		return s, "", nil
	}))
	require.NoError(t, d.Start(context.Background()))

	res, err := d.SubmitUtterance(context.Background(), " \n\t ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, ReasonBlank, res.Reason)
	assert.False(t, called)
	assert.Len(t, sp.said(), 1)
}

func TestBusySubmissionIgnored(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	d, _ := newDriver(t, processorFunc(func(ctx context.Context, s session.State, text string) (session.State, string, error) {
		close(entered)
		<-release
		s.AppendUser(text)
		s.AppendAssistant("Verstanden.")
		return s, "Verstanden.", nil
	}))
	require.NoError(t, d.Start(context.Background()))

	done := make(chan Result, 1)
	go func() {
		res, _ := d.SubmitUtterance(context.Background(), "erste")
		done <- res
	}()
	<-entered

	assert.Equal(t, StatusProcessing, d.Snapshot().Status)
	res, err := d.SubmitUtterance(context.Background(), "zweite")
	require.NoError(t, err)
	assert.Equal(t, ReasonBusy, res.Reason)
	assert.False(t, d.BeginRecording())

	close(release)
	first := <-done
	assert.Equal(t, OutcomeReplied, first.Outcome)
	assert.Len(t, d.Snapshot().State.Messages, 3)
}

func TestExternalFailureApologizes(t *testing.T) {
	det := &scriptedDetector{err: errors.New("timeout")}
	d, sp := newDriver(t, realProcessor(t, det, &scriptedCollector{}))
	require.NoError(t, d.Start(context.Background()))

	res, err := d.SubmitUtterance(context.Background(), "Ich bin angestellt")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApologized, res.Outcome)
	assert.Equal(t, Apology, res.Reply)

	snap := d.Snapshot()
	assert.Equal(t, session.DetectingForm, snap.Phase)
	assert.Equal(t, StatusIdle, snap.Status)
	require.Len(t, snap.State.Messages, 2)
	assert.Equal(t, session.RoleUser, snap.State.Messages[1].Role)
	assert.Equal(t, Apology, snap.Turns[len(snap.Turns)-1].Text)
	assert.Equal(t, []string{Greeting, Apology}, sp.said())
}

func TestUnexpectedProcessorErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	d, _ := newDriver(t, processorFunc(func(ctx context.Context, s session.State, text string) (session.State, string, error) {
		return s, "", boom
	}))
	require.NoError(t, d.Start(context.Background()))

	_, err := d.SubmitUtterance(context.Background(), "Hallo")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusIdle, d.Snapshot().Status)
}

func TestStuckCollectingIsCompleted(t *testing.T) {
	det := &scriptedDetector{detections: []turn.Detection{{Reply: "Gut.", FormIDs: []string{"leer"}}}}
	store := &memoryArchive{}
	d, sp := newDriver(t, realProcessor(t, det, &scriptedCollector{}), WithArchive(store))
	require.NoError(t, d.Start(context.Background()))

	res, err := d.SubmitUtterance(context.Background(), "Ich habe nichts")
	require.NoError(t, err)
	assert.Equal(t, session.Complete, res.Phase)
	assert.Contains(t, res.Reply, turn.ClosingSentence)

	snap := d.Snapshot()
	assert.Equal(t, session.Complete, snap.Phase)
	assert.NoError(t, snap.State.Validate())
	assert.Equal(t, turn.ClosingSentence, snap.State.Messages[len(snap.State.Messages)-1].Content)
	assert.Len(t, store.records, 1)
	assert.Contains(t, sp.said()[1], turn.ClosingSentence)
}

func TestRestartResetsFully(t *testing.T) {
	det := &scriptedDetector{detections: []turn.Detection{{Reply: "Gut.", FormIDs: []string{"anlage_n"}}}}
	d, sp := newDriver(t, realProcessor(t, det, &scriptedCollector{}))
	require.NoError(t, d.Start(context.Background()))
	_, err := d.SubmitUtterance(context.Background(), "angestellt")
	require.NoError(t, err)

	d.Restart()
	snap := d.Snapshot()
	assert.Equal(t, session.New(), snap.State)
	assert.Empty(t, snap.Turns)
	assert.Empty(t, snap.SessionID)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, 1, sp.stops)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, session.DetectingForm, d.Snapshot().Phase)
}

func TestRestartDiscardsInFlightTurn(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	d, _ := newDriver(t, processorFunc(func(ctx context.Context, s session.State, text string) (session.State, string, error) {
		close(entered)
		<-release
		s.AppendUser(text)
		return s, "zu spät", nil
	}))
	require.NoError(t, d.Start(context.Background()))

	done := make(chan Result, 1)
	go func() {
		res, _ := d.SubmitUtterance(context.Background(), "Hallo")
		done <- res
	}()
	<-entered
	d.Restart()
	close(release)

	res := <-done
	assert.Equal(t, ReasonRestarted, res.Reason)
	assert.Equal(t, session.New(), d.Snapshot().State)
}

func TestRestartDuringTranscriptionDropsUtterance(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	tr := transcriberFunc(func(ctx context.Context, a speech.Audio) (string, error) {
		close(entered)
		<-release
		return "alte Antwort", nil
	})
	var mu sync.Mutex
	calls := 0
	d, _ := newDriver(t, processorFunc(func(ctx context.Context, s session.State, text string) (session.State, string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		s.AppendUser(text)
		return s, "Gut.", nil
	}), WithTranscriber(tr))
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	require.True(t, d.BeginRecording())

	done := make(chan Result, 1)
	go func() {
		res, _ := d.SubmitAudio(ctx, speech.Audio{Data: []byte{1}, MIME: speech.MIMEWAV})
		done <- res
	}()
	<-entered
	d.Restart()
	require.NoError(t, d.Start(ctx))
	close(release)

	res := <-done
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, ReasonRestarted, res.Reason)

	snap := d.Snapshot()
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, Greeting, snap.Turns[0].Text)
	assert.Len(t, snap.State.Messages, 1)
	assert.Equal(t, StatusIdle, snap.Status)
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()
}

func TestCancelledCallerDoesNotAbortExtraction(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	det := &blockingDetector{entered: entered, release: release,
		detection: turn.Detection{Reply: "Gut.", FormIDs: []string{"anlage_n"}}}
	d, _ := newDriver(t, turn.NewProcessor(det, &scriptedCollector{}, testCatalog(t), turn.WithLogger(quietLogger())))
	require.NoError(t, d.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, _ := d.SubmitUtterance(ctx, "Ich bin angestellt")
		done <- res
	}()
	<-entered
	cancel()
	close(release)

	res := <-done
	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.Equal(t, session.Collecting, res.Phase)
	assert.NoError(t, det.ctxErr)
}

func TestStopSpeakingKeepsState(t *testing.T) {
	d, sp := newDriver(t, processorFunc(nil))
	sp.hold = true

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()
	<-sp.started
	assert.Equal(t, StatusSpeaking, d.Snapshot().Status)

	d.StopSpeaking()
	require.NoError(t, <-done)
	snap := d.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, session.DetectingForm, snap.Phase)
	assert.Len(t, snap.State.Messages, 1)
}

func TestRecordingStatus(t *testing.T) {
	d, _ := newDriver(t, processorFunc(nil))
	require.NoError(t, d.Start(context.Background()))

	assert.True(t, d.BeginRecording())
	assert.Equal(t, StatusRecording, d.Snapshot().Status)
	assert.False(t, d.BeginRecording())

	res, err := d.SubmitUtterance(context.Background(), "Hallo")
	require.NoError(t, err)
	assert.Equal(t, ReasonBusy, res.Reason)

	d.CancelRecording()
	assert.Equal(t, StatusIdle, d.Snapshot().Status)
}

func TestSubmitAudio(t *testing.T) {
	var transcript string
	var transcribeErr error
	tr := transcriberFunc(func(ctx context.Context, a speech.Audio) (string, error) {
		return transcript, transcribeErr
	})
	var got []string
	d, _ := newDriver(t, processorFunc(func(ctx context.Context, s session.State, text string) (session.State, string, error) {
		got = append(got, text)
		s.AppendUser(text)
		s.AppendAssistant("Gut.")
		return s, "Gut.", nil
	}), WithTranscriber(tr))
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	audio := speech.Audio{Data: []byte{1, 2}, MIME: speech.MIMEWAV}

	transcribeErr = &speech.TranscriptionError{Provider: "test", Err: errors.New("noise")}
	require.True(t, d.BeginRecording())
	res, err := d.SubmitAudio(ctx, audio)
	require.NoError(t, err)
	assert.Equal(t, ReasonTranscription, res.Reason)
	assert.Equal(t, StatusIdle, d.Snapshot().Status)

	transcribeErr = nil
	transcript = "   "
	res, err = d.SubmitAudio(ctx, audio)
	require.NoError(t, err)
	assert.Equal(t, ReasonBlank, res.Reason)

	transcript = "Ich bin angestellt."
	require.True(t, d.BeginRecording())
	res, err = d.SubmitAudio(ctx, audio)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.Equal(t, []string{"Ich bin angestellt."}, got)
	assert.Len(t, d.Snapshot().State.Messages, 3)
}

func TestSubmitAudioWithoutTranscriber(t *testing.T) {
	d, _ := newDriver(t, processorFunc(nil))
	_, err := d.SubmitAudio(context.Background(), speech.Audio{})
	assert.Error(t, err)
}

func TestExportBeforeSelection(t *testing.T) {
	d, _ := newDriver(t, processorFunc(nil))
	_, err := d.Export(export.FormatJSON)
	assert.ErrorIs(t, err, ErrNothingToExport)
}

func TestExportPreview(t *testing.T) {
	det := &scriptedDetector{detections: []turn.Detection{{Reply: "Gut.", FormIDs: []string{"anlage_n"}}}}
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	d, _ := newDriver(t, realProcessor(t, det, &scriptedCollector{}), WithClock(func() time.Time { return now }))
	require.NoError(t, d.Start(context.Background()))
	_, err := d.SubmitUtterance(context.Background(), "angestellt")
	require.NoError(t, err)

	doc, err := d.Export(export.FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(doc.Body), "Erstellt am: 2.4.2026")
	assert.Contains(t, string(doc.Body), "| Bruttoarbeitslohn | — |")
}

func TestSubscribe(t *testing.T) {
	d, _ := newDriver(t, processorFunc(nil))
	updates, cancel := d.Subscribe()

	first := <-updates
	assert.Equal(t, session.Welcome, first.Phase)

	require.NoError(t, d.Start(context.Background()))
	latest := <-updates
	assert.Equal(t, session.DetectingForm, latest.Phase)
	assert.Greater(t, latest.Version, first.Version)

	cancel()
	_, open := <-updates
	assert.False(t, open)
	cancel()
}
