package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keshucs12345/taxvoice/internal/archive"
	"github.com/keshucs12345/taxvoice/internal/driver"
	"github.com/keshucs12345/taxvoice/internal/export"
	"github.com/keshucs12345/taxvoice/internal/logging"
	"github.com/keshucs12345/taxvoice/internal/speech"
)

const defaultMaxAudioBytes = 10 << 20

type handler struct {
	driver        *driver.Driver
	archive       archive.Store
	logger        *logging.Logger
	maxAudioBytes int64
}

func newHandler(cfg *Config) *handler {
	h := &handler{
		driver:        cfg.Driver,
		archive:       cfg.Archive,
		logger:        cfg.Logger.Component("api"),
		maxAudioBytes: cfg.MaxAudioBytes,
	}
	if h.maxAudioBytes <= 0 {
		h.maxAudioBytes = defaultMaxAudioBytes
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

type turnResponse struct {
	Result   driver.Result   `json:"result"`
	Snapshot driver.Snapshot `json:"snapshot"`
}

type utteranceRequest struct {
	Text string `json:"text"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.driver.Snapshot())
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	err := h.driver.Start(r.Context())
	switch {
	case errors.Is(err, driver.ErrAlreadyStarted), errors.Is(err, driver.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("start failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not start conversation")
	default:
		writeJSON(w, http.StatusOK, h.driver.Snapshot())
	}
}

func (h *handler) submitUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.driver.SubmitUtterance(r.Context(), req.Text)
	h.writeTurn(w, res, err)
}

// submitAudio accepts either a multipart upload in field "audio" or the raw
// recording as request body.
func (h *handler) submitAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes)
	a, err := readAudio(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.driver.SubmitAudio(r.Context(), a)
	h.writeTurn(w, res, err)
}

func readAudio(r *http.Request) (speech.Audio, error) {
	if err := r.ParseMultipartForm(1 << 20); err == nil {
		file, header, err := r.FormFile("audio")
		if err != nil {
			return speech.Audio{}, fmt.Errorf("missing audio file: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return speech.Audio{}, err
		}
		return speech.Audio{Data: data, Filename: header.Filename, MIME: header.Header.Get("Content-Type")}, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return speech.Audio{}, err
	}
	if len(data) == 0 {
		return speech.Audio{}, errors.New("empty audio body")
	}
	mime := r.Header.Get("Content-Type")
	name := "utterance.wav"
	if mime == "audio/webm" {
		name = "utterance.webm"
	}
	return speech.Audio{Data: data, Filename: name, MIME: mime}, nil
}

func (h *handler) writeTurn(w http.ResponseWriter, res driver.Result, err error) {
	if err != nil {
		h.logger.Error("turn failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}
	status := http.StatusOK
	if res.Outcome == driver.OutcomeIgnored && res.Reason == driver.ReasonBusy {
		status = http.StatusConflict
	}
	writeJSON(w, status, turnResponse{Result: res, Snapshot: h.driver.Snapshot()})
}

func (h *handler) beginRecording(w http.ResponseWriter, r *http.Request) {
	if !h.driver.BeginRecording() {
		writeError(w, http.StatusConflict, driver.ErrBusy.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.driver.Snapshot())
}

func (h *handler) cancelRecording(w http.ResponseWriter, r *http.Request) {
	h.driver.CancelRecording()
	writeJSON(w, http.StatusOK, h.driver.Snapshot())
}

func (h *handler) stopSpeaking(w http.ResponseWriter, r *http.Request) {
	h.driver.StopSpeaking()
	writeJSON(w, http.StatusOK, h.driver.Snapshot())
}

func (h *handler) restart(w http.ResponseWriter, r *http.Request) {
	h.driver.Restart()
	writeJSON(w, http.StatusOK, h.driver.Snapshot())
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := h.driver.Export(format)
	if errors.Is(err, driver.ErrNothingToExport) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("export failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func (h *handler) listArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.archive.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("archive list failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if list == nil {
		list = []archive.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	rec, err := h.archive.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("archive get failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
