package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/capture"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/history"
	"github.com/voicebridge/voicebridge/internal/miclease"
	"github.com/voicebridge/voicebridge/internal/speech"
)

// handleUploadRecording accepts a finished recording as a multipart
// file and runs it through the transcription pipeline. The response is
// always a full result; degraded results carry the placeholder
// transcript and the degraded flag.
func (s *Server) handleUploadRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(gateway.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing file field")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, gateway.MaxUploadBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "could not read file")
		return
	}

	res, err := s.pipeline.Process(r.Context(), capture.ProcessInput{
		RecordingID: uuid.NewString(),
		Audio:       audio,
		Filename:    header.Filename,
		Language:    strings.TrimSpace(r.FormValue("language")),
		NonStandard: parseBool(r.FormValue("use_non_standard_model")),
		VoiceSample: parseBool(r.FormValue("voice_sample")),
	})
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	s.observeRecording(res)
	respondJSON(w, http.StatusOK, res)
}

type captureStartRequest struct {
	Mode     string `json:"mode"`
	Language string `json:"language"`
}

type captureStartResponse struct {
	RecordingID string `json:"recording_id"`
	Mode        string `json:"mode"`
}

// handleCaptureStart begins a relay recording: subsequent audio chunks
// arriving on the live websocket are collected until stop.
func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	var req captureStartRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode := capture.ModeDictation
	if req.Mode == string(capture.ModeVoiceSample) {
		mode = capture.ModeVoiceSample
	}

	id, err := s.controller.Start(r.Context(), mode)
	if err != nil {
		var dErr *capture.DeviceError
		if errors.As(err, &dErr) {
			respondError(w, http.StatusServiceUnavailable, "device_unavailable", dErr.Error())
			return
		}
		if errors.Is(err, miclease.ErrHeld) {
			respondError(w, http.StatusConflict, "microphone_busy", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, captureStartResponse{RecordingID: id, Mode: string(mode)})
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.controller.Stop(r.Context())
	if err != nil {
		if errors.Is(err, capture.ErrNotRecording) {
			respondError(w, http.StatusConflict, "not_recording", err.Error())
			return
		}
		respondGatewayError(w, err)
		return
	}
	s.observeRecording(res)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) observeRecording(res capture.Result) {
	outcome := "ok"
	if res.Degraded {
		outcome = "degraded"
		s.metrics.TranscriptionFallbacks.Inc()
	}
	s.metrics.Recordings.WithLabelValues(outcome).Inc()
	s.metrics.HistorySize.WithLabelValues(string(history.KindSpeechToText)).Set(float64(s.hist.Size(history.KindSpeechToText)))
}

type speakRequest struct {
	Text      string  `json:"text"`
	VoiceID   string  `json:"voice_id"`
	ProfileID string  `json:"profile_id"`
	Language  string  `json:"language"`
	Rate      float64 `json:"rate"`
}

type speakResponse struct {
	Source   string        `json:"source"`
	Degraded bool          `json:"degraded"`
	Entry    history.Entry `json:"entry"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// User preferences fill whatever the request leaves unset.
	prefs := s.prefs.Get()
	if strings.TrimSpace(req.Language) == "" {
		req.Language = prefs.Language
	}
	if req.VoiceID == "" && req.ProfileID == "" {
		req.VoiceID = prefs.VoiceID
		req.ProfileID = prefs.ProfileID
	}
	if req.Rate == 0 {
		req.Rate = prefs.SpeakingRate
	}

	started := time.Now()
	res, err := s.dispatcher.Speak(r.Context(), speech.Request{
		Text:      req.Text,
		VoiceID:   req.VoiceID,
		ProfileID: req.ProfileID,
		Language:  req.Language,
		Rate:      req.Rate,
	})
	if err != nil {
		var vErr *gateway.ValidationError
		if errors.As(err, &vErr) {
			respondError(w, http.StatusBadRequest, "invalid_request", vErr.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
		return
	}
	s.metrics.ObserveSynthesisLatency(time.Since(started))
	s.metrics.HistorySize.WithLabelValues(string(history.KindTextToSpeech)).Set(float64(s.hist.Size(history.KindTextToSpeech)))
	respondJSON(w, http.StatusOK, speakResponse{Source: res.Source, Degraded: res.Degraded, Entry: res.Entry})
}

func (s *Server) handleSpeakStop(w http.ResponseWriter, _ *http.Request) {
	s.dispatcher.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func historyKind(raw string) (history.Kind, bool) {
	switch history.Kind(raw) {
	case history.KindSpeechToText, history.KindTextToSpeech:
		return history.Kind(raw), true
	default:
		return "", false
	}
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := historyKind(chi.URLParam(r, "kind"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_kind", "history kind must be speech-to-text or text-to-speech")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"kind":    kind,
		"entries": s.hist.List(kind),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := historyKind(chi.URLParam(r, "kind"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_kind", "history kind must be speech-to-text or text-to-speech")
		return
	}
	s.hist.Clear(r.Context(), kind)
	s.metrics.HistorySize.WithLabelValues(string(kind)).Set(0)
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleClearAllHistory(w http.ResponseWriter, r *http.Request) {
	s.hist.ClearAll(r.Context())
	s.metrics.HistorySize.WithLabelValues(string(history.KindSpeechToText)).Set(0)
	s.metrics.HistorySize.WithLabelValues(string(history.KindTextToSpeech)).Set(0)
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	entry, err := s.hist.ToggleFavorite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entry_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
