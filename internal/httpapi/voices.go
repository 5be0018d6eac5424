package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge/voicebridge/internal/gateway"
)

// Voice, profile and sample endpoints forward to the backend's
// personalizer API with the gateway doing payload validation.

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Voices(r.Context())
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.SpeechModels(r.Context())
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Profiles(r.Context())
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req gateway.CreateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "profile name is required")
		return
	}
	res, err := s.backend.CreateProfile(r.Context(), req)
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleActivateProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ActivateProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, gateway.SimpleResponse{Success: true, Message: "profile activated"})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, gateway.SimpleResponse{Success: true, Message: "profile deleted"})
}

type trainRequest struct {
	SampleIDs []string `json:"sample_ids"`
}

func (s *Server) handleTrainProfile(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.backend.TrainProfile(r.Context(), chi.URLParam(r, "id"), req.SampleIDs)
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleUploadSample(w http.ResponseWriter, r *http.Request) {
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

	var characteristics map[string]any
	if raw := strings.TrimSpace(r.FormValue("speech_characteristics")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &characteristics); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "speech_characteristics must be a JSON object")
			return
		}
	}

	res, err := s.backend.UploadSample(r.Context(), gateway.UploadSampleRequest{
		Audio:                 audio,
		Filename:              header.Filename,
		Phrase:                r.FormValue("phrase"),
		Category:              r.FormValue("category"),
		ProfileID:             r.FormValue("profile_id"),
		SpeechCharacteristics: characteristics,
	})
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Samples(r.Context())
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteSample(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteSample(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, gateway.SimpleResponse{Success: true, Message: "sample deleted"})
}

func (s *Server) handleTrainingPhrases(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.TrainingPhrases(r.Context())
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type analyzeSpeechRequest struct {
	SampleIDs []string `json:"sample_ids"`
}

func (s *Server) handleAnalyzeSpeech(w http.ResponseWriter, r *http.Request) {
	var req analyzeSpeechRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.backend.AnalyzeSpeech(r.Context(), req.SampleIDs)
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleTranscriptionStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.TranscriptionStatus(r.Context())
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleTTSStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.TTSStatus(r.Context())
	if err != nil {
		respondGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
