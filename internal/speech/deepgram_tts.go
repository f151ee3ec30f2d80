package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/keshucs12345/taxvoice/internal/audio"
)

const deepgramSpeakURL = "https://api.deepgram.com/v1/speak"

// DeepgramSynthesizer uses the Deepgram Aura speak endpoint.
type DeepgramSynthesizer struct {
	apiKey   string
	voice    string
	endpoint string
	client   *http.Client
}

func NewDeepgramSynthesizer(apiKey, voice string) *DeepgramSynthesizer {
	return &DeepgramSynthesizer{
		apiKey:   apiKey,
		voice:    voice,
		endpoint: deepgramSpeakURL,
		client:   &http.Client{},
	}
}

type deepgramSpeakPayload struct {
	Text string `json:"text"`
}

func (d *DeepgramSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(deepgramSpeakPayload{Text: text})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("model", d.voice)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprint(audio.SampleRate))
	q.Set("container", "none")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("deepgram TTS error: status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}
