package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RequestObserver is notified after every backend round trip with the
// operation name and "ok" or "error". Used to feed request metrics.
type RequestObserver func(op, result string)

// Client is a thin typed wrapper over the remote VoiceBridge backend.
// All heavy computation (recognition, training, synthesis) happens on
// the other side of these calls.
type Client struct {
	baseURL  string
	httpc    *http.Client
	observer RequestObserver
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Observe RequestObserver
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpc:    &http.Client{Timeout: timeout},
		observer: cfg.Observe,
	}
}

// Health reports whether the backend is reachable.
func (c *Client) Health(ctx context.Context) (err error) {
	defer func() { c.observe("health", err) }()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "health", StatusCode: resp.StatusCode}
	}
	return nil
}

// Transcribe submits captured audio to POST /api/speech-to-text.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (TranscriptionResult, error) {
	if err := validateAudio(req.Audio); err != nil {
		return TranscriptionResult{}, err
	}
	fields := map[string]string{
		"language":               defaultLanguage(req.Language),
		"use_non_standard_model": strconv.FormatBool(req.UseNonStandardModel),
	}
	var out TranscriptionResult
	err := c.postMultipart(ctx, "transcribe", "/api/speech-to-text", "file", req.Filename, req.Audio, fields, &out)
	if err != nil {
		return TranscriptionResult{}, err
	}
	return out, nil
}

// TranscribeVoice submits audio to the alternative endpoint
// POST /api/voice/transcribe, which always uses the standard model.
func (c *Client) TranscribeVoice(ctx context.Context, audio []byte, filename, language string) (TranscriptionResult, error) {
	if err := validateAudio(audio); err != nil {
		return TranscriptionResult{}, err
	}
	fields := map[string]string{"language": defaultLanguage(language)}
	var out TranscriptionResult
	err := c.postMultipart(ctx, "transcribe_voice", "/api/voice/transcribe", "file", filename, audio, fields, &out)
	if err != nil {
		return TranscriptionResult{}, err
	}
	return out, nil
}

// SpeechModels lists the recognition models the backend offers.
func (c *Client) SpeechModels(ctx context.Context) (SpeechModelsResponse, error) {
	var out SpeechModelsResponse
	err := c.doJSON(ctx, "speech_models", http.MethodGet, "/api/speech-models", nil, &out)
	return out, err
}

// Synthesize converts text to speech and returns the raw audio bytes.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	return c.postForAudio(ctx, "synthesize", "/api/text-to-speech", req)
}

// Voices lists the available synthesis voices.
func (c *Client) Voices(ctx context.Context) (VoicesResponse, error) {
	var out VoicesResponse
	err := c.doJSON(ctx, "voices", http.MethodGet, "/api/voices", nil, &out)
	return out, err
}

// Profiles lists all personalized voice profiles.
func (c *Client) Profiles(ctx context.Context) (ProfilesResponse, error) {
	var out ProfilesResponse
	err := c.doJSON(ctx, "profiles", http.MethodGet, "/api/voice/profiles", nil, &out)
	return out, err
}

// CreateProfile registers a new voice profile.
func (c *Client) CreateProfile(ctx context.Context, req CreateProfileRequest) (CreateProfileResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return CreateProfileResponse{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	var out CreateProfileResponse
	err := c.doJSON(ctx, "create_profile", http.MethodPost, "/api/voice/profiles", req, &out)
	return out, err
}

// ActivateProfile makes one profile the active synthesis voice.
func (c *Client) ActivateProfile(ctx context.Context, profileID string) error {
	var out SimpleResponse
	path := "/api/voice/profiles/" + url.PathEscape(profileID) + "/activate"
	return c.doJSON(ctx, "activate_profile", http.MethodPost, path, nil, &out)
}

// DeleteProfile removes a voice profile.
func (c *Client) DeleteProfile(ctx context.Context, profileID string) error {
	var out SimpleResponse
	path := "/api/voice/profiles/" + url.PathEscape(profileID)
	return c.doJSON(ctx, "delete_profile", http.MethodDelete, path, nil, &out)
}

// UploadSample uploads one training recording for a profile.
func (c *Client) UploadSample(ctx context.Context, req UploadSampleRequest) (UploadSampleResponse, error) {
	if err := validateAudio(req.Audio); err != nil {
		return UploadSampleResponse{}, err
	}
	if strings.TrimSpace(req.Phrase) == "" {
		return UploadSampleResponse{}, &ValidationError{Field: "phrase", Reason: "must not be empty"}
	}
	chars, err := json.Marshal(orEmptyMap(req.SpeechCharacteristics))
	if err != nil {
		return UploadSampleResponse{}, fmt.Errorf("encode speech characteristics: %w", err)
	}
	fields := map[string]string{
		"phrase":                 req.Phrase,
		"category":               orDefault(req.Category, "general"),
		"speech_characteristics": string(chars),
	}
	if strings.TrimSpace(req.ProfileID) != "" {
		fields["profile_id"] = req.ProfileID
	}
	var out UploadSampleResponse
	err = c.postMultipart(ctx, "upload_sample", "/api/voice/upload-sample", "audio", req.Filename, req.Audio, fields, &out)
	if err != nil {
		return UploadSampleResponse{}, err
	}
	return out, nil
}

// Samples lists the uploaded voice samples.
func (c *Client) Samples(ctx context.Context) (SamplesResponse, error) {
	var out SamplesResponse
	err := c.doJSON(ctx, "samples", http.MethodGet, "/api/voice/samples", nil, &out)
	return out, err
}

// DeleteSample removes one uploaded voice sample.
func (c *Client) DeleteSample(ctx context.Context, sampleID string) error {
	var out SimpleResponse
	path := "/api/voice/samples/" + url.PathEscape(sampleID)
	return c.doJSON(ctx, "delete_sample", http.MethodDelete, path, nil, &out)
}

// TrainProfile starts voice-model training for a profile.
func (c *Client) TrainProfile(ctx context.Context, profileID string, sampleIDs []string) (TrainResponse, error) {
	var out TrainResponse
	path := "/api/voice/profiles/" + url.PathEscape(profileID) + "/train"
	err := c.doJSON(ctx, "train_profile", http.MethodPost, path, TrainRequest{Samples: sampleIDs}, &out)
	return out, err
}

// SynthesizeWithProfile synthesizes text using a trained voice profile.
func (c *Client) SynthesizeWithProfile(ctx context.Context, text, profileID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	body := map[string]string{"text": text, "profile_id": profileID}
	return c.postForAudio(ctx, "synthesize_profile", "/api/voice/synthesize", body)
}

// TranscriptionStatus reports recognition service health.
func (c *Client) TranscriptionStatus(ctx context.Context) (TranscriptionStatusResponse, error) {
	var out TranscriptionStatusResponse
	err := c.doJSON(ctx, "transcription_status", http.MethodGet, "/api/transcription-status", nil, &out)
	return out, err
}

// TTSStatus reports synthesis service health.
func (c *Client) TTSStatus(ctx context.Context) (TTSStatusResponse, error) {
	var out TTSStatusResponse
	err := c.doJSON(ctx, "tts_status", http.MethodGet, "/api/tts-status", nil, &out)
	return out, err
}

// TrainingPhrases fetches the phrase catalogue for sample recording.
func (c *Client) TrainingPhrases(ctx context.Context) (TrainingPhrasesResponse, error) {
	var out TrainingPhrasesResponse
	err := c.doJSON(ctx, "training_phrases", http.MethodGet, "/api/voice/training-phrases", nil, &out)
	return out, err
}

// AnalyzeSpeech requests a speech-pattern analysis over uploaded samples.
func (c *Client) AnalyzeSpeech(ctx context.Context, sampleIDs []string) (AnalyzeSpeechResponse, error) {
	var out AnalyzeSpeechResponse
	body := map[string][]string{"sample_ids": sampleIDs}
	err := c.doJSON(ctx, "analyze_speech", http.MethodPost, "/api/voice/analyze-speech", body, &out)
	return out, err
}

func validateAudio(audio []byte) error {
	if len(audio) == 0 {
		return &ValidationError{Field: "audio", Reason: "must not be empty"}
	}
	if len(audio) > MaxUploadBytes {
		return &ValidationError{Field: "audio", Reason: fmt.Sprintf("exceeds %d bytes", MaxUploadBytes)}
	}
	return nil
}

func defaultLanguage(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return "en"
	}
	return lang
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (c *Client) observe(op string, err error) {
	if c.observer == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.observer(op, result)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) (err error) {
	defer func() { c.observe(op, err) }()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) postForAudio(ctx context.Context, op, path string, body any) (audio []byte, err error) {
	defer func() { c.observe(op, err) }()
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	audio, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("read audio: %w", err)}
	}
	return audio, nil
}

func (c *Client) postMultipart(ctx context.Context, op, path, fileField, filename string, audio []byte, fields map[string]string, out any) (err error) {
	defer func() { c.observe(op, err) }()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile(fileField, orDefault(filename, "recording.wav"))
	if err != nil {
		return fmt.Errorf("%s: build form: %w", op, err)
	}
	if _, err := fw.Write(audio); err != nil {
		return fmt.Errorf("%s: build form: %w", op, err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("%s: build form: %w", op, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%s: build form: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
