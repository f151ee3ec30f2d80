package speech

import (
	"context"
	"errors"
	"sync"
)

// Speaker reads text aloud. Speak blocks until playback ends or Stop is
// called. Stop with nothing playing is a no-op.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// Synthesizer renders text as 16 kHz mono linear16 PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player plays PCM and returns early when ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// playback tracks the one in-flight Speak call of a speaker.
type playback struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// begin cancels any earlier playback and returns the context of the new one.
func (p *playback) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.mu.Unlock()

	return ctx, func() {
		cancel()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen == gen {
			p.cancel = nil
		}
	}
}

func (p *playback) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// PCMSpeaker synthesizes with a remote voice and plays locally.
type PCMSpeaker struct {
	synth    Synthesizer
	player   Player
	playback playback
}

func NewPCMSpeaker(synth Synthesizer, player Player) *PCMSpeaker {
	return &PCMSpeaker{synth: synth, player: player}
}

func (s *PCMSpeaker) Speak(ctx context.Context, text string) error {
	ctx, done := s.playback.begin(ctx)
	defer done()

	pcm, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return err
	}
	return s.player.Play(ctx, pcm)
}

func (s *PCMSpeaker) Stop() {
	s.playback.stop()
}
