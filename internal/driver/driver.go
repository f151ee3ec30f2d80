// Package driver owns the live session: it serializes utterances through
// the turn processor, speaks the replies and publishes snapshots to the
// presentation layer.
package driver

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keshucs12345/taxvoice/internal/archive"
	"github.com/keshucs12345/taxvoice/internal/export"
	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/metrics"
	"github.com/keshucs12345/taxvoice/internal/session"
	"github.com/keshucs12345/taxvoice/internal/speech"
	"github.com/keshucs12345/taxvoice/internal/turn"
)

const (
	Greeting = "Guten Tag! Ich bin Ihr digitaler Steuer-Assistent. Ich helfe Ihnen dabei, die richtigen Formulare für Ihre Steuererklärung 2025 auszufüllen. Erzählen Sie mir kurz: Sind Sie angestellt, selbstständig, oder beides? Und haben Sie besondere Ausgaben wie Spenden oder Versicherungsbeiträge?"
	Apology  = "Entschuldigung, da ist etwas schiefgelaufen. Könnten Sie das bitte noch einmal sagen?"
)

var (
	ErrAlreadyStarted  = errors.New("driver: conversation already started")
	ErrBusy            = errors.New("driver: another operation is in flight")
	ErrNothingToExport = errors.New("driver: no forms selected yet")
)

// TurnProcessor is satisfied by *turn.Processor.
type TurnProcessor interface {
	Process(ctx context.Context, state session.State, utterance string) (session.State, string, error)
}

// Archiver stores completed sessions.
type Archiver interface {
	Save(ctx context.Context, r archive.Record) error
}

type Option func(*Driver)

func WithSpeaker(s speech.Speaker) Option {
	return func(d *Driver) { d.speaker = s }
}

func WithTranscriber(t speech.Transcriber) Option {
	return func(d *Driver) { d.transcriber = t }
}

func WithArchive(a Archiver) Option {
	return func(d *Driver) { d.archive = a }
}

func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) { d.logger = l.Component("driver") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithClock replaces time.Now for display turns and exports.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver is safe for concurrent use. At most one utterance is processed at
// a time; submissions while busy are ignored.
type Driver struct {
	processor   TurnProcessor
	speaker     speech.Speaker
	transcriber speech.Transcriber
	archive     Archiver
	logger      *logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu        sync.Mutex
	state     session.State
	status    Status
	sessionID string
	turns     []Turn
	// epoch changes whenever the status is taken over, so a finishing
	// operation can tell whether it still owns the status.
	epoch   uint64
	version uint64
	subs    map[chan Snapshot]struct{}
}

func New(processor TurnProcessor, opts ...Option) *Driver {
	d := &Driver{
		processor: processor,
		now:       time.Now,
		state:     session.New(),
		status:    StatusIdle,
		subs:      map[chan Snapshot]struct{}{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Default().Component("driver")
	}
	if d.speaker == nil {
		d.speaker = speech.NewLogSpeaker(d.logger)
	}
	return d
}

// Start leaves Welcome: it records and speaks the greeting.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state.Phase != session.Welcome {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	if d.status != StatusIdle {
		d.mu.Unlock()
		return ErrBusy
	}
	if err := d.state.BeginDetection(Greeting); err != nil {
		d.mu.Unlock()
		return err
	}
	d.sessionID = uuid.NewString()
	d.addTurnLocked(session.RoleAssistant, Greeting)
	epoch := d.setStatusLocked(StatusSpeaking)
	sessionID := d.sessionID
	d.publishLocked()
	d.mu.Unlock()

	d.logger.Info("session started", "session_id", sessionID)
	d.metrics.ObserveSession("started")
	d.speak(ctx, epoch, Greeting)
	return nil
}

// SubmitUtterance runs one turn for text and speaks the reply. Blank text
// and submissions while busy are ignored without error.
func (d *Driver) SubmitUtterance(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return d.ignore(ReasonBlank), nil
	}
	epoch, ok := d.acquire(StatusProcessing, StatusIdle)
	if !ok {
		return d.ignore(ReasonBusy), nil
	}
	return d.process(ctx, epoch, text)
}

// SubmitAudio transcribes a recording and submits the text. A failed or
// blank transcription discards the utterance.
func (d *Driver) SubmitAudio(ctx context.Context, a speech.Audio) (Result, error) {
	if d.transcriber == nil {
		return Result{}, errors.New("driver: no transcriber configured")
	}
	epoch, ok := d.acquire(StatusProcessing, StatusIdle, StatusRecording)
	if !ok {
		return d.ignore(ReasonBusy), nil
	}

	text, err := d.transcriber.Transcribe(ctx, a)
	if err != nil {
		d.logger.Warn("transcription failed, utterance discarded", "error", err.Error())
		d.metrics.ObserveTranscription("error")
		d.release(epoch)
		return d.ignore(ReasonTranscription), nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		d.metrics.ObserveTranscription("blank")
		d.release(epoch)
		return d.ignore(ReasonBlank), nil
	}
	d.metrics.ObserveTranscription("ok")
	return d.process(ctx, epoch, text)
}

// process runs the turn while holding the status acquired under epoch. A
// cancelled ctx only cuts the spoken reply short.
func (d *Driver) process(ctx context.Context, epoch uint64, text string) (Result, error) {
	d.mu.Lock()
	if d.epoch != epoch {
		// restarted while the recording was being transcribed
		d.mu.Unlock()
		d.logger.Info("discarding utterance after restart")
		return d.ignore(ReasonRestarted), nil
	}
	if d.state.Phase != session.DetectingForm && d.state.Phase != session.Collecting {
		d.mu.Unlock()
		d.release(epoch)
		return d.ignore(ReasonPhase), nil
	}
	d.addTurnLocked(session.RoleUser, text)
	before := d.state.Clone()
	d.publishLocked()
	d.mu.Unlock()

	// Once issued, the NLU call runs to completion or to its own timeout.
	next, reply, err := d.processor.Process(context.WithoutCancel(ctx), before, text)

	d.mu.Lock()
	if d.epoch != epoch {
		// restarted while the extractor was busy
		d.mu.Unlock()
		d.logger.Info("discarding turn result after restart")
		return d.ignore(ReasonRestarted), nil
	}

	outcome := OutcomeReplied
	switch {
	case errors.Is(err, turn.ErrExternalService):
		d.logger.Warn("turn failed, apologizing", "phase", before.Phase.String(), "error", err.Error())
		d.state = next
		reply = Apology
		outcome = OutcomeApologized
	case err != nil:
		d.setStatusLocked(StatusIdle)
		d.publishLocked()
		d.mu.Unlock()
		d.metrics.ObserveTurn(before.Phase.String(), "error")
		return Result{}, err
	default:
		d.state = next
		if d.state.Stuck() {
			d.logger.Warn("selected forms have no fields, completing session")
			_ = d.state.Finish()
			d.state.AppendAssistant(turn.ClosingSentence)
			reply = joinReply(reply, turn.ClosingSentence)
		}
	}
	if err := d.state.Validate(); err != nil {
		d.logger.Error("session invariants violated", "error", err.Error())
	}

	completed := before.Phase != session.Complete && d.state.Phase == session.Complete
	var record archive.Record
	if completed {
		record = archive.FromState(d.sessionID, d.state, d.now())
	}
	if reply != "" {
		d.addTurnLocked(session.RoleAssistant, reply)
	}
	result := Result{Outcome: outcome, Reply: reply, Phase: d.state.Phase}
	speakEpoch := d.setStatusLocked(StatusSpeaking)
	d.publishLocked()
	d.mu.Unlock()

	d.metrics.ObserveTurn(before.Phase.String(), string(outcome))
	if completed {
		d.complete(ctx, record)
	}
	d.speak(ctx, speakEpoch, reply)
	return result, nil
}

func (d *Driver) complete(ctx context.Context, record archive.Record) {
	d.metrics.ObserveSession("completed")
	d.logger.Info("session complete", "session_id", record.ID, "answered", len(record.Collected))
	if d.archive == nil {
		return
	}
	if err := d.archive.Save(ctx, record); err != nil {
		d.logger.Error("archiving session failed", "session_id", record.ID, "error", err.Error())
	}
}

// speak plays text and returns the driver to idle unless something else
// took over the status meanwhile.
func (d *Driver) speak(ctx context.Context, epoch uint64, text string) {
	if text != "" {
		start := time.Now()
		err := d.speaker.Speak(ctx, text)
		status := "ok"
		if err != nil {
			status = "error"
			d.logger.Warn("speech output failed", "error", err.Error())
		}
		d.metrics.ObserveSpeech(status, time.Since(start).Seconds())
	}
	d.release(epoch)
}

// BeginRecording marks the microphone as open. It reports false while busy.
func (d *Driver) BeginRecording() bool {
	_, ok := d.acquire(StatusRecording, StatusIdle)
	return ok
}

// CancelRecording returns a recording driver to idle without a turn.
func (d *Driver) CancelRecording() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusRecording {
		d.setStatusLocked(StatusIdle)
		d.publishLocked()
	}
}

// StopSpeaking interrupts playback. The session is not touched.
func (d *Driver) StopSpeaking() {
	d.speaker.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusSpeaking {
		d.setStatusLocked(StatusIdle)
		d.publishLocked()
	}
}

// Restart discards the session and returns to Welcome. A turn still in
// flight is dropped when it returns.
func (d *Driver) Restart() {
	d.speaker.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Reset()
	d.turns = nil
	d.sessionID = ""
	d.setStatusLocked(StatusIdle)
	d.publishLocked()
	d.metrics.ObserveSession("restarted")
	d.logger.Info("session restarted")
}

// Export renders the current answers. Before Complete this is a preview.
func (d *Driver) Export(format export.Format) (export.Document, error) {
	d.mu.Lock()
	state := d.state.Clone()
	d.mu.Unlock()
	if len(state.SelectedForms) == 0 {
		return export.Document{}, ErrNothingToExport
	}
	return export.Render(format, state.SelectedForms, state.Collected, d.now())
}

// acquire moves the status to "to" when it currently is one of from.
func (d *Driver) acquire(to Status, from ...Status) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(from, d.status) {
		return 0, false
	}
	epoch := d.setStatusLocked(to)
	d.publishLocked()
	return epoch, true
}

func (d *Driver) release(epoch uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch == epoch && d.status != StatusIdle {
		d.setStatusLocked(StatusIdle)
		d.publishLocked()
	}
}

func (d *Driver) ignore(reason Reason) Result {
	d.mu.Lock()
	phase := d.state.Phase
	d.mu.Unlock()
	d.metrics.ObserveTurn(phase.String(), "ignored_"+string(reason))
	return Result{Outcome: OutcomeIgnored, Reason: reason, Phase: phase}
}

func (d *Driver) setStatusLocked(s Status) uint64 {
	d.status = s
	d.epoch++
	return d.epoch
}

func (d *Driver) addTurnLocked(role session.Role, text string) {
	d.turns = append(d.turns, Turn{ID: uuid.NewString(), Speaker: role, Text: text, At: d.now()})
}

func joinReply(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
