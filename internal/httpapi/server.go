package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/capture"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/history"
	"github.com/voicebridge/voicebridge/internal/miclease"
	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/settings"
	"github.com/voicebridge/voicebridge/internal/speech"
)

// Backend is the remote gateway surface the API forwards to.
type Backend interface {
	Health(ctx context.Context) error
	TranscribeVoice(ctx context.Context, audio []byte, filename, language string) (gateway.TranscriptionResult, error)
	SpeechModels(ctx context.Context) (gateway.SpeechModelsResponse, error)
	Voices(ctx context.Context) (gateway.VoicesResponse, error)
	Profiles(ctx context.Context) (gateway.ProfilesResponse, error)
	CreateProfile(ctx context.Context, req gateway.CreateProfileRequest) (gateway.CreateProfileResponse, error)
	ActivateProfile(ctx context.Context, profileID string) error
	DeleteProfile(ctx context.Context, profileID string) error
	UploadSample(ctx context.Context, req gateway.UploadSampleRequest) (gateway.UploadSampleResponse, error)
	Samples(ctx context.Context) (gateway.SamplesResponse, error)
	DeleteSample(ctx context.Context, sampleID string) error
	TrainProfile(ctx context.Context, profileID string, sampleIDs []string) (gateway.TrainResponse, error)
	TranscriptionStatus(ctx context.Context) (gateway.TranscriptionStatusResponse, error)
	TTSStatus(ctx context.Context) (gateway.TTSStatusResponse, error)
	TrainingPhrases(ctx context.Context) (gateway.TrainingPhrasesResponse, error)
	AnalyzeSpeech(ctx context.Context, sampleIDs []string) (gateway.AnalyzeSpeechResponse, error)
}

type Server struct {
	cfg        config.Config
	backend    Backend
	pipeline   *capture.Pipeline
	controller *capture.Controller
	relay      *RelayOpener
	dispatcher *speech.Dispatcher
	hist       *history.Store
	prefs      *settings.Store
	lease      *miclease.Lease
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, backend Backend, pipeline *capture.Pipeline, controller *capture.Controller, relay *RelayOpener, dispatcher *speech.Dispatcher, hist *history.Store, prefs *settings.Store, lease *miclease.Lease, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		backend:    backend,
		pipeline:   pipeline,
		controller: controller,
		relay:      relay,
		dispatcher: dispatcher,
		hist:       hist,
		prefs:      prefs,
		lease:      lease,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin, so a foreign page cannot drive the mic session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/recordings", s.handleUploadRecording)
	r.Post("/v1/capture/start", s.handleCaptureStart)
	r.Post("/v1/capture/stop", s.handleCaptureStop)
	r.Get("/v1/live/ws", s.handleLiveWS)

	r.Post("/v1/speak", s.handleSpeak)
	r.Post("/v1/speak/stop", s.handleSpeakStop)

	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handleUpdateSettings)

	r.Get("/v1/history/{kind}", s.handleListHistory)
	r.Delete("/v1/history/{kind}", s.handleClearHistory)
	r.Delete("/v1/history", s.handleClearAllHistory)
	r.Post("/v1/history/{id}/favorite", s.handleToggleFavorite)

	r.Get("/v1/voices", s.handleListVoices)
	r.Get("/v1/models", s.handleListModels)
	r.Get("/v1/voice/profiles", s.handleListProfiles)
	r.Post("/v1/voice/profiles", s.handleCreateProfile)
	r.Post("/v1/voice/profiles/{id}/activate", s.handleActivateProfile)
	r.Delete("/v1/voice/profiles/{id}", s.handleDeleteProfile)
	r.Post("/v1/voice/profiles/{id}/train", s.handleTrainProfile)
	r.Post("/v1/voice/samples", s.handleUploadSample)
	r.Get("/v1/voice/samples", s.handleListSamples)
	r.Delete("/v1/voice/samples/{id}", s.handleDeleteSample)
	r.Get("/v1/voice/training-phrases", s.handleTrainingPhrases)
	r.Post("/v1/voice/analyze-speech", s.handleAnalyzeSpeech)

	r.Get("/v1/status/transcription", s.handleTranscriptionStatus)
	r.Get("/v1/status/tts", s.handleTTSStatus)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mic_lease_held": s.lease != nil && s.lease.Owner() != "",
	})
}

// handleReady probes the backend; a degraded answer is still 200 so the
// service keeps serving history and local fallback paths.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	backendStatus := "reachable"
	if err := s.backend.Health(ctx); err != nil {
		backendStatus = "unreachable"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"backend": backendStatus,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondGatewayError maps the gateway error taxonomy onto HTTP statuses.
func respondGatewayError(w http.ResponseWriter, err error) {
	var vErr *gateway.ValidationError
	if errors.As(err, &vErr) {
		respondError(w, http.StatusBadRequest, "invalid_request", vErr.Error())
		return
	}
	var tErr *gateway.TransportError
	if errors.As(err, &tErr) {
		respondError(w, http.StatusBadGateway, "backend_unavailable", tErr.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "internal", err.Error())
}
