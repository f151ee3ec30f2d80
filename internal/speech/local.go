package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/keshucs12345/taxvoice/internal/logging"
)

// CommandSpeaker speaks through a local program such as espeak-ng. The text
// is passed as the final argument.
type CommandSpeaker struct {
	name     string
	args     []string
	playback playback
}

// NewCommandSpeaker splits command on whitespace.
func NewCommandSpeaker(command string) (*CommandSpeaker, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, errors.New("speech: empty local TTS command")
	}
	return &CommandSpeaker{name: parts[0], args: parts[1:]}, nil
}

func (c *CommandSpeaker) Speak(ctx context.Context, text string) error {
	ctx, done := c.playback.begin(ctx)
	defer done()

	args := append(append([]string{}, c.args...), text)
	cmd := exec.CommandContext(ctx, c.name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("local TTS %s: %w: %s", c.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *CommandSpeaker) Stop() {
	c.playback.stop()
}

// LogSpeaker only logs what would have been said.
type LogSpeaker struct {
	logger *logging.Logger
}

func NewLogSpeaker(logger *logging.Logger) *LogSpeaker {
	return &LogSpeaker{logger: logger.Component("tts")}
}

func (l *LogSpeaker) Speak(ctx context.Context, text string) error {
	l.logger.Info("speak", "text", text)
	return nil
}

func (l *LogSpeaker) Stop() {}

// FallbackSpeaker uses fallback when primary fails. A stopped primary is
// not a failure.
type FallbackSpeaker struct {
	primary  Speaker
	fallback Speaker
	logger   *logging.Logger
}

func NewFallbackSpeaker(primary, fallback Speaker, logger *logging.Logger) Speaker {
	if fallback == nil {
		return primary
	}
	return &FallbackSpeaker{primary: primary, fallback: fallback, logger: logger.Component("tts")}
}

func (f *FallbackSpeaker) Speak(ctx context.Context, text string) error {
	err := f.primary.Speak(ctx, text)
	if err == nil || ctx.Err() != nil {
		return err
	}
	f.logger.Warn("primary speaker failed, using local fallback", "error", err.Error())
	return f.fallback.Speak(ctx, text)
}

func (f *FallbackSpeaker) Stop() {
	f.primary.Stop()
	f.fallback.Stop()
}
