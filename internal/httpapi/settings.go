package httpapi

import (
	"net/http"

	"github.com/voicebridge/voicebridge/internal/settings"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.prefs.Get())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.Settings
	if err := decodeJSON(r, &next); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if next.SpeakingRate < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "speaking_rate must not be negative")
		return
	}
	respondJSON(w, http.StatusOK, s.prefs.Update(r.Context(), next))
}
