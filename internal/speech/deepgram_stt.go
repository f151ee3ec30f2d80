package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keshucs12345/taxvoice/internal/audio"
	"github.com/keshucs12345/taxvoice/internal/logging"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"
	deepgramChunkSize = 8192
)

// DeepgramTranscriber streams an utterance over the Deepgram live
// websocket and collects the final transcripts.
type DeepgramTranscriber struct {
	apiKey   string
	endpoint string
	dialer   *websocket.Dialer
	logger   *logging.Logger
}

type DeepgramOption func(*DeepgramTranscriber)

// WithDeepgramEndpoint overrides the listen URL.
func WithDeepgramEndpoint(u string) DeepgramOption {
	return func(d *DeepgramTranscriber) { d.endpoint = u }
}

func NewDeepgramTranscriber(apiKey string, logger *logging.Logger, opts ...DeepgramOption) *DeepgramTranscriber {
	d := &DeepgramTranscriber{
		apiKey:   apiKey,
		endpoint: deepgramListenURL,
		dialer:   websocket.DefaultDialer,
		logger:   logger.Component("stt"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, a Audio) (string, error) {
	if len(a.Data) == 0 {
		return "", d.fail(errors.New("empty audio"))
	}

	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", d.fail(err)
	}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("language", "de")
	q.Set("punctuate", "true")
	data := a.Data
	if a.MIME == MIMEPCM {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", fmt.Sprint(audio.SampleRate))
		q.Set("channels", fmt.Sprint(audio.Channels))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	d.logger.Debug("connecting to deepgram", "url", u.String())
	conn, _, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return "", d.fail(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	writeErr := make(chan error, 1)
	go func() {
		for offset := 0; offset < len(data); offset += deepgramChunkSize {
			end := min(offset+deepgramChunkSize, len(data))
			if err := conn.WriteMessage(websocket.BinaryMessage, data[offset:end]); err != nil {
				writeErr <- err
				return
			}
		}
		writeErr <- conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	}()

	var parts []string
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", d.fail(ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return "", d.fail(err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			d.logger.Warn("unable to parse deepgram message", "message", string(msg))
			continue
		}
		if resp.Type == "Metadata" {
			break
		}
		if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}

	if err := <-writeErr; err != nil {
		return "", d.fail(err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	text := strings.Join(parts, " ")
	d.logger.Debug("transcript from deepgram", "text", text)
	return text, nil
}

func (d *DeepgramTranscriber) fail(err error) error {
	return &TranscriptionError{Provider: "deepgram", Err: err}
}
