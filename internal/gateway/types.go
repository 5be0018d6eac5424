package gateway

import "fmt"

// MaxUploadBytes is the largest audio payload accepted for upload.
// Matches the backend's hard limit; enforced before any network call.
const MaxUploadBytes = 100 * 1024 * 1024

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError reports a network failure or a non-success HTTP status
// from the backend. Callers recover via a local fallback path.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TranscribeRequest is the input for both transcription endpoints.
type TranscribeRequest struct {
	Audio               []byte
	Filename            string
	Language            string
	UseNonStandardModel bool
}

type TranscriptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscriptionResult struct {
	Success          bool                   `json:"success"`
	Text             string                 `json:"text"`
	Language         string                 `json:"language"`
	Confidence       float64                `json:"confidence"`
	FullText         string                 `json:"full_transcription,omitempty"`
	Segments         []TranscriptionSegment `json:"segments,omitempty"`
	ModelUsed        string                 `json:"model_used,omitempty"`
	AudioDurationSec float64                `json:"audio_duration,omitempty"`
}

type SpeechModel struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	BestFor     []string `json:"best_for"`
	Status      string   `json:"status"`
	Endpoint    string   `json:"endpoint"`
}

type SpeechModelsResponse struct {
	Success   bool          `json:"success"`
	Models    []SpeechModel `json:"models"`
	Timestamp string        `json:"timestamp"`
}

// SynthesisRequest is the JSON body for POST /api/text-to-speech.
type SynthesisRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id,omitempty"`
	Stability    float64 `json:"stability"`
	Similarity   float64 `json:"similarity"`
	Style        float64 `json:"style"`
	SpeakerBoost bool    `json:"speaker_boost"`
}

type Voice struct {
	ID       string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

type VoicesResponse struct {
	Success        bool    `json:"success"`
	DefaultVoiceID string  `json:"default_voice_id"`
	Voices         []Voice `json:"voices"`
	Count          int     `json:"count"`
}

type VoiceProfile struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	Tone                  string         `json:"tone"`
	SpeakingRate          float64        `json:"speaking_rate"`
	Stability             float64        `json:"stability"`
	Similarity            float64        `json:"similarity"`
	SpeechCharacteristics map[string]any `json:"speech_characteristics"`
	SampleIDs             []string       `json:"sample_ids"`
	CreatedAt             string         `json:"created_at"`
	IsActive              bool           `json:"isActive"`
}

type ProfilesResponse struct {
	Success  bool           `json:"success"`
	Profiles []VoiceProfile `json:"profiles"`
	Count    int            `json:"count"`
}

type CreateProfileRequest struct {
	Name                  string         `json:"name"`
	Tone                  string         `json:"tone"`
	SpeakingRate          float64        `json:"speaking_rate"`
	Stability             float64        `json:"stability"`
	Similarity            float64        `json:"similarity"`
	SpeechCharacteristics map[string]any `json:"speech_characteristics"`
	SampleIDs             []string       `json:"sample_ids"`
}

type CreateProfileResponse struct {
	Success   bool   `json:"success"`
	ProfileID string `json:"profile_id"`
	Message   string `json:"message"`
}

// UploadSampleRequest is the multipart payload for voice sample upload.
// SpeechCharacteristics is serialized as a JSON form field.
type UploadSampleRequest struct {
	Audio                 []byte
	Filename              string
	Phrase                string
	Category              string
	SpeechCharacteristics map[string]any
	ProfileID             string
}

type UploadSampleResponse struct {
	Success       bool    `json:"success"`
	SampleID      string  `json:"sample_id"`
	Transcription string  `json:"transcription"`
	Confidence    float64 `json:"confidence"`
	DurationSec   float64 `json:"duration"`
	Accuracy      float64 `json:"accuracy"`
}

type VoiceSample struct {
	ID            string  `json:"id"`
	Phrase        string  `json:"phrase"`
	Category      string  `json:"category"`
	ProfileID     string  `json:"profile_id"`
	Transcription string  `json:"transcription"`
	Confidence    float64 `json:"confidence"`
	DurationSec   float64 `json:"duration"`
	AudioSize     int64   `json:"audio_size"`
	AudioURL      string  `json:"audio_url"`
}

type SamplesResponse struct {
	Success bool          `json:"success"`
	Samples []VoiceSample `json:"samples"`
	Count   int           `json:"count"`
}

type TrainRequest struct {
	Samples []string `json:"samples"`
}

type TrainResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProfileID string `json:"profile_id"`
}

type ServiceStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded,omitempty"`
	Available   bool   `json:"available,omitempty"`
	Device      string `json:"device,omitempty"`
	ModelName   string `json:"model_name,omitempty"`
}

type TranscriptionStatusResponse struct {
	Success       bool                     `json:"success"`
	Services      map[string]ServiceStatus `json:"services"`
	OverallStatus string                   `json:"overall_status"`
}

type TTSStatusResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	DefaultVoice string `json:"default_voice,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message"`
}

type TrainingPhrasesResponse struct {
	Success bool                `json:"success"`
	Phrases map[string][]string `json:"phrases"`
}

type AnalyzeSpeechResponse struct {
	Success           bool     `json:"success"`
	ArticulationScore float64  `json:"articulation_score"`
	ConsistencyScore  float64  `json:"consistency_score"`
	OverallScore      float64  `json:"overall_score"`
	Recommendations   []string `json:"recommendations"`
}

type SimpleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
