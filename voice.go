//go:build !android
// +build !android

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/keshucs12345/taxvoice/internal/audio"
	"github.com/keshucs12345/taxvoice/internal/config"
	"github.com/keshucs12345/taxvoice/internal/driver"
	"github.com/keshucs12345/taxvoice/internal/export"
	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/session"
	"github.com/keshucs12345/taxvoice/internal/speech"
)

const voiceHelp = `Enter: Aufnahme starten/beenden (unterbricht die Sprachausgabe)
e: Zusammenfassung speichern   r: neu beginnen   q: beenden`

// runVoice is push-to-talk on the local microphone.
func runVoice(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if err := audio.Init(); err != nil {
		return fmt.Errorf("failed to init audio: %w", err)
	}
	defer audio.Shutdown(logger)

	a, err := newApp(cfg, logger, audio.NewPlayer())
	if err != nil {
		return err
	}
	defer a.Close()
	d := a.driver
	recorder := audio.NewRecorder(logger)

	go printTranscript(ctx, d)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
		close(lines)
	}()

	fmt.Println(voiceHelp)
	go func() {
		if err := d.Start(ctx); err != nil {
			logger.Error("start failed", "error", err.Error())
		}
	}()

	recording := false
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			if recording {
				_, _ = recorder.Stop()
			}
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch line {
		case "q":
			return nil
		case "r":
			if recording {
				_, _ = recorder.Stop()
				recording = false
			}
			d.Restart()
			go func() { _ = d.Start(ctx) }()
		case "e":
			saveSummary(d)
		case "":
			if recording {
				recording = false
				pcm, err := recorder.Stop()
				if err != nil {
					logger.Warn("recording failed", "error", err.Error())
					d.CancelRecording()
					continue
				}
				go submitRecording(ctx, d, logger, pcm)
				continue
			}
			if d.Snapshot().Status == driver.StatusSpeaking {
				d.StopSpeaking()
			}
			if !d.BeginRecording() {
				fmt.Println("… bitte warten, ich bin noch beschäftigt.")
				continue
			}
			if err := recorder.Start(); err != nil {
				logger.Error("microphone unavailable", "error", err.Error())
				d.CancelRecording()
				continue
			}
			recording = true
			fmt.Println("● Aufnahme läuft, Enter zum Beenden")
		default:
			fmt.Println(voiceHelp)
		}
	}
}

func submitRecording(ctx context.Context, d *driver.Driver, logger *logging.Logger, pcm []byte) {
	res, err := d.SubmitAudio(ctx, speech.FromPCM(pcm))
	if err != nil {
		logger.Error("turn failed", "error", err.Error())
		return
	}
	switch res.Reason {
	case driver.ReasonTranscription, driver.ReasonBlank:
		fmt.Println("… ich habe nichts verstanden, bitte noch einmal.")
	}
	if res.Phase == session.Complete && res.Outcome != driver.OutcomeIgnored {
		fmt.Println("Fertig! Mit e speichern Sie Ihre Zusammenfassung.")
	}
}

func saveSummary(d *driver.Driver) {
	doc, err := d.Export(export.FormatMarkdown)
	if errors.Is(err, driver.ErrNothingToExport) {
		fmt.Println("Noch keine Formulare ausgewählt.")
		return
	}
	if err != nil {
		fmt.Printf("Export fehlgeschlagen: %v\n", err)
		return
	}
	if err := os.WriteFile(doc.Filename, doc.Body, 0o644); err != nil {
		fmt.Printf("Export fehlgeschlagen: %v\n", err)
		return
	}
	fmt.Printf("Zusammenfassung gespeichert: %s\n", doc.Filename)
}

// printTranscript echoes new display turns to the terminal.
func printTranscript(ctx context.Context, d *driver.Driver) {
	updates, cancel := d.Subscribe()
	defer cancel()
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if len(snap.Turns) < printed {
				printed = 0
			}
			for _, t := range snap.Turns[printed:] {
				who := "Assistent"
				if t.Speaker == session.RoleUser {
					who = "Sie"
				}
				fmt.Printf("%s: %s\n", who, t.Text)
			}
			printed = len(snap.Turns)
			if p := snap.Progress; snap.Phase == session.Collecting && p.Total > 0 {
				fmt.Printf("  [Feld %d / %d]\n", p.Cursor+1, p.Total)
			}
		}
	}
}
