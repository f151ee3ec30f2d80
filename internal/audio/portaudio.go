package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/keshucs12345/taxvoice/internal/logging"
)

// Init must be called once before any Player or Recorder is used.
func Init() error {
	return portaudio.Initialize()
}

func Shutdown(logger *logging.Logger) {
	if err := portaudio.Terminate(); err != nil {
		logger.Component("audio").Warn("terminating portaudio", "error", err.Error())
	}
}

// Player writes PCM to the default output device.
type Player struct{}

func NewPlayer() *Player { return &Player{} }

// Play blocks until pcm has been played or ctx is cancelled. Cancellation
// stops output after the current buffer and is not an error.
func (p *Player) Play(ctx context.Context, pcm []byte) error {
	samples := BytesToInt16(pcm)
	buffer := make([]int16, FramesPerBuffer)

	stream, err := portaudio.OpenDefaultStream(0, Channels, SampleRate, len(buffer), &buffer)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return err
	}
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
	}()

	for offset := 0; offset < len(samples); {
		if ctx.Err() != nil {
			return nil
		}
		n := copy(buffer, samples[offset:])
		clear(buffer[n:])
		offset += n
		if err := stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

// Recorder captures the default input device between Start and Stop.
type Recorder struct {
	logger *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	pcm     []byte
	lastErr error
}

func NewRecorder(logger *logging.Logger) *Recorder {
	return &Recorder{logger: logger.Component("audio")}
}

var ErrAlreadyRecording = errors.New("audio: already recording")

// Start opens the microphone and records in the background.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyRecording
	}

	buffer := make([]int16, FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(Channels, 0, SampleRate, len(buffer), &buffer)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.pcm = nil
	r.lastErr = nil

	go func() {
		defer close(r.done)
		defer func() {
			_ = stream.Stop()
			_ = stream.Close()
		}()
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				r.logger.Error("mic read failed", "error", err.Error())
				r.mu.Lock()
				r.lastErr = err
				r.mu.Unlock()
				return
			}
			frame := Int16ToBytes(buffer)
			r.mu.Lock()
			r.pcm = append(r.pcm, frame...)
			r.mu.Unlock()
		}
	}()
	return nil
}

// Stop ends the recording and returns the captured PCM.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil, nil
	}
	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = nil
	pcm, err := r.pcm, r.lastErr
	r.pcm = nil
	r.logger.Debug("recording stopped", "bytes", len(pcm))
	return pcm, err
}
