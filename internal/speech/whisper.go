package speech

import (
	"bytes"
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperTranscriber sends each utterance to the OpenAI transcription API.
type WhisperTranscriber struct {
	client   *openai.Client
	language string
}

// NewWhisperTranscriber uses baseURL when non-empty.
func NewWhisperTranscriber(apiKey, baseURL string) *WhisperTranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &WhisperTranscriber{client: openai.NewClientWithConfig(cfg), language: "de"}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, a Audio) (string, error) {
	if len(a.Data) == 0 {
		return "", &TranscriptionError{Provider: "whisper", Err: errors.New("empty audio")}
	}
	name := a.Filename
	if name == "" {
		name = "utterance.wav"
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: name,
		Reader:   bytes.NewReader(a.Data),
		Language: w.language,
	})
	if err != nil {
		return "", &TranscriptionError{Provider: "whisper", Err: err}
	}
	return strings.TrimSpace(resp.Text), nil
}
