package driver

import (
	"slices"
	"time"

	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/session"
)

// Status is what the driver is busy with.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

type Outcome string

const (
	OutcomeReplied    Outcome = "replied"
	OutcomeApologized Outcome = "apologized"
	OutcomeIgnored    Outcome = "ignored"
)

// Reason explains an ignored submission.
type Reason string

const (
	ReasonBlank         Reason = "blank"
	ReasonBusy          Reason = "busy"
	ReasonPhase         Reason = "phase"
	ReasonTranscription Reason = "transcription"
	ReasonRestarted     Reason = "restarted"
)

// Result describes what a submission did.
type Result struct {
	Outcome Outcome       `json:"outcome"`
	Reason  Reason        `json:"reason,omitempty"`
	Reply   string        `json:"reply,omitempty"`
	Phase   session.Phase `json:"phase"`
}

// Turn is one line of the on-screen transcript. Unlike the session
// messages it also shows apologies and carries timestamps.
type Turn struct {
	ID      string       `json:"id"`
	Speaker session.Role `json:"speaker"`
	Text    string       `json:"text"`
	At      time.Time    `json:"at"`
}

// Snapshot is a read-only copy of the driver for presentation.
type Snapshot struct {
	Version       uint64                 `json:"version"`
	SessionID     string                 `json:"sessionId,omitempty"`
	Status        Status                 `json:"status"`
	Phase         session.Phase          `json:"phase"`
	SelectedForms []FormSummary          `json:"selectedForms"`
	CurrentField  *forms.Field           `json:"currentField,omitempty"`
	Progress      session.Progress       `json:"progress"`
	Collected     map[string]forms.Value `json:"collected"`
	Turns         []Turn                 `json:"turns"`
	State         session.State          `json:"-"`
}

type FormSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Driver) snapshotLocked() Snapshot {
	state := d.state.Clone()
	snap := Snapshot{
		Version:       d.version,
		SessionID:     d.sessionID,
		Status:        d.status,
		Phase:         state.Phase,
		SelectedForms: make([]FormSummary, 0, len(state.SelectedForms)),
		Progress:      state.Progress(),
		Collected:     state.Collected,
		Turns:         slices.Clone(d.turns),
		State:         state,
	}
	for _, f := range state.SelectedForms {
		snap.SelectedForms = append(snap.SelectedForms, FormSummary{ID: f.ID, Name: f.Name})
	}
	if field, ok := state.CurrentField(); ok {
		snap.CurrentField = &field
	}
	if snap.Turns == nil {
		snap.Turns = []Turn{}
	}
	return snap
}

// Subscribe returns a channel that always holds the latest snapshot after
// a change. Slow readers skip intermediate versions. cancel must be called
// to release the subscription.
func (d *Driver) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	ch <- d.snapshotLocked()
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.subs[ch]; ok {
			delete(d.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (d *Driver) publishLocked() {
	d.version++
	if len(d.subs) == 0 {
		return
	}
	snap := d.snapshotLocked()
	for ch := range d.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
