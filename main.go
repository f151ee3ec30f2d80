//go:build !android
// +build !android

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keshucs12345/taxvoice/internal/api"
	"github.com/keshucs12345/taxvoice/internal/archive"
	"github.com/keshucs12345/taxvoice/internal/audio"
	"github.com/keshucs12345/taxvoice/internal/config"
	"github.com/keshucs12345/taxvoice/internal/driver"
	"github.com/keshucs12345/taxvoice/internal/extract"
	"github.com/keshucs12345/taxvoice/internal/forms"
	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/metrics"
	"github.com/keshucs12345/taxvoice/internal/speech"
	"github.com/keshucs12345/taxvoice/internal/turn"
)

func main() {
	mode := flag.String("mode", "serve", "run mode: serve (HTTP API) or voice (microphone and speakers)")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch *mode {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "voice":
		err = runVoice(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Error("exiting", "error", err.Error())
		os.Exit(1)
	}
}

// app is everything both modes share.
type app struct {
	driver   *driver.Driver
	archive  *archive.SQLiteStore
	registry *prometheus.Registry
}

func (a *app) Close() {
	if a.archive != nil {
		_ = a.archive.Close()
	}
}

func newApp(cfg *config.Config, logger *logging.Logger, player speech.Player) (*app, error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	primary, err := newLLMClient(cfg.LLMProvider, cfg)
	if err != nil {
		return nil, err
	}
	fallback, err := newLLMClient(cfg.LLMFallback, cfg)
	if err != nil {
		return nil, err
	}
	llm := extract.NewFallbackClient(primary, fallback, logger)
	extractor := extract.NewExtractor(llm, catalog,
		extract.WithTemperature(cfg.LLMTemperature),
		extract.WithLogger(logger),
	)

	policy, err := turn.ParseQuestionPolicy(cfg.QuestionPolicy)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	processor := turn.NewProcessor(extractor, extractor, catalog,
		turn.WithQuestionPolicy(policy),
		turn.WithCallTimeout(cfg.NLUTimeout),
		turn.WithLogger(logger),
		turn.WithMetrics(m),
	)

	a := &app{registry: registry}
	opts := []driver.Option{
		driver.WithLogger(logger),
		driver.WithMetrics(m),
		driver.WithSpeaker(newSpeaker(cfg, logger, player)),
		driver.WithTranscriber(newTranscriber(cfg, logger)),
	}
	if cfg.ArchiveDSN != "" {
		store, err := archive.NewSQLiteStore(cfg.ArchiveDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = store
		opts = append(opts, driver.WithArchive(store))
	}
	a.driver = driver.New(processor, opts...)
	return a, nil
}

func loadCatalog(cfg *config.Config) (*forms.Catalog, error) {
	if cfg.FormsFile != "" {
		return forms.LoadCatalogFile(cfg.FormsFile)
	}
	return forms.DefaultCatalog()
}

func newLLMClient(provider string, cfg *config.Config) (extract.LLMClient, error) {
	switch provider {
	case "":
		return nil, nil
	case config.ProviderOpenAI:
		return extract.NewOpenAIClient(cfg.OpenAIAPIKey,
			extract.WithOpenAIModel(cfg.OpenAIModel),
			extract.WithOpenAIBaseURL(cfg.OpenAIBaseURL),
		), nil
	case config.ProviderAnthropic:
		return extract.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", provider)
}

func newTranscriber(cfg *config.Config, logger *logging.Logger) speech.Transcriber {
	if cfg.STTProvider == config.ProviderDeepgram {
		return speech.NewDeepgramTranscriber(cfg.DeepgramAPIKey, logger)
	}
	return speech.NewWhisperTranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
}

// newSpeaker prefers the configured remote voice and falls back to the
// local command. Without an audio device only the local command is used.
func newSpeaker(cfg *config.Config, logger *logging.Logger, player speech.Player) speech.Speaker {
	var local speech.Speaker = speech.NewLogSpeaker(logger)
	if cmd, err := speech.NewCommandSpeaker(cfg.LocalTTSCommand); err == nil {
		local = cmd
	}

	var synth speech.Synthesizer
	switch cfg.TTSProvider {
	case config.ProviderNone:
		return speech.NewLogSpeaker(logger)
	case config.ProviderLocal:
		return local
	case config.ProviderElevenLabs:
		if cfg.ElevenLabsAPIKey != "" {
			synth = speech.NewElevenLabsSynthesizer(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)
		}
	case config.ProviderDeepgram:
		if cfg.DeepgramAPIKey != "" {
			synth = speech.NewDeepgramSynthesizer(cfg.DeepgramAPIKey, cfg.DeepgramVoice)
		}
	}
	if synth == nil || player == nil {
		logger.Warn("remote TTS unavailable, using local speech", "provider", cfg.TTSProvider)
		return local
	}
	return speech.NewFallbackSpeaker(speech.NewPCMSpeaker(synth, player), local, logger)
}

// initPlayer opens PortAudio for playback. A machine without audio still
// runs, with local speech only.
func initPlayer(logger *logging.Logger) (speech.Player, func()) {
	if err := audio.Init(); err != nil {
		logger.Warn("audio unavailable", "error", err.Error())
		return nil, func() {}
	}
	return audio.NewPlayer(), func() { audio.Shutdown(logger) }
}

func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	player, shutdownAudio := initPlayer(logger)
	defer shutdownAudio()

	a, err := newApp(cfg, logger, player)
	if err != nil {
		return err
	}
	defer a.Close()

	apiCfg := &api.Config{
		Logger:         logger,
		Driver:         a.driver,
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}
	if a.archive != nil {
		apiCfg.Archive = a.archive
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.New(apiCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
