// Package speech turns recorded audio into text and text back into sound.
package speech

import (
	"context"
	"fmt"

	"github.com/keshucs12345/taxvoice/internal/audio"
)

const (
	MIMEWAV = "audio/wav"
	// MIMEPCM is raw 16-bit little-endian mono PCM at 16 kHz.
	MIMEPCM = "audio/l16"
)

// Audio is one recorded utterance.
type Audio struct {
	Data     []byte
	Filename string
	MIME     string
}

// FromPCM wraps captured microphone PCM in a WAV container.
func FromPCM(pcm []byte) Audio {
	return Audio{Data: audio.EncodeWAV(pcm), Filename: "utterance.wav", MIME: MIMEWAV}
}

// Transcriber converts an utterance to German text.
type Transcriber interface {
	Transcribe(ctx context.Context, a Audio) (string, error)
}

// TranscriptionError marks a failed or unusable transcription. The
// utterance is discarded and the session is left untouched.
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription via %s failed: %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
