// Package api exposes the conversation to a browser front end over HTTP
// and a websocket snapshot stream.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keshucs12345/taxvoice/internal/archive"
	"github.com/keshucs12345/taxvoice/internal/driver"
	"github.com/keshucs12345/taxvoice/internal/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger
	Driver *driver.Driver
	// Archive is optional; without it the /api/archive routes answer 404.
	Archive        archive.Store
	MetricsHandler http.Handler
	// MaxAudioBytes bounds uploaded recordings. Zero means 10 MiB.
	MaxAudioBytes int64
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	h := newHandler(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", h.health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Post("/start", h.start)
			r.Post("/utterance", h.submitUtterance)
			r.Post("/audio", h.submitAudio)
			r.Post("/recording/begin", h.beginRecording)
			r.Post("/recording/cancel", h.cancelRecording)
			r.Post("/stop-speaking", h.stopSpeaking)
			r.Post("/restart", h.restart)
			r.Get("/export", h.export)
			r.Get("/events", h.events)
		})
		r.Get("/archive", h.listArchive)
		r.Get("/archive/{id}", h.getArchive)
	})
	return r
}
