package live

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/gateway"
)

// GatewayTranscriber is the gateway surface used for utterance
// recognition.
type GatewayTranscriber interface {
	TranscribeVoice(ctx context.Context, audioData []byte, filename, language string) (gateway.TranscriptionResult, error)
}

const defaultInterimInterval = 1500 * time.Millisecond

type pcmChunk struct {
	data       []byte
	sampleRate int
}

// GatewayRecognizer adapts the request/response transcription endpoint
// to the streaming Recognizer contract. Audio is pushed in PCM16LE
// chunks; each commit closes the current utterance: the full buffer is
// transcribed once more as final and the stream ends, letting the
// session restart a fresh one. Between commits the growing buffer is
// re-transcribed on a timer to produce interim hypotheses.
type GatewayRecognizer struct {
	gw       GatewayTranscriber
	interval time.Duration
	chunks   chan pcmChunk
	commits  chan chan struct{}
}

func NewGatewayRecognizer(gw GatewayTranscriber, interimInterval time.Duration) *GatewayRecognizer {
	if interimInterval <= 0 {
		interimInterval = defaultInterimInterval
	}
	return &GatewayRecognizer{
		gw:       gw,
		interval: interimInterval,
		chunks:   make(chan pcmChunk, 32),
		commits:  make(chan chan struct{}, 4),
	}
}

// PushChunk feeds one PCM16LE audio chunk into the active stream.
// Chunks pushed while no stream is consuming are dropped.
func (r *GatewayRecognizer) PushChunk(pcm []byte, sampleRate int) {
	if len(pcm) == 0 {
		return
	}
	select {
	case r.chunks <- pcmChunk{data: pcm, sampleRate: sampleRate}:
	default:
		log.Printf("live: dropping audio chunk, recognizer backlog full")
	}
}

// Commit marks the end of the current utterance. The returned channel
// closes once the utterance has been resolved (final, error or empty),
// so callers tearing the session down can wait for the outcome first.
func (r *GatewayRecognizer) Commit() <-chan struct{} {
	done := make(chan struct{})
	select {
	case r.commits <- done:
	default:
		close(done)
	}
	return done
}

func (r *GatewayRecognizer) StartStream(ctx context.Context, language string) (Stream, error) {
	runCtx, cancel := context.WithCancel(ctx)
	gs := &gatewayStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go gs.run(runCtx, r, language)
	return gs, nil
}

type gatewayStream struct {
	events chan Event
	cancel context.CancelFunc
}

func (s *gatewayStream) Events() <-chan Event { return s.events }

func (s *gatewayStream) Close() error {
	s.cancel()
	return nil
}

func (s *gatewayStream) run(ctx context.Context, r *GatewayRecognizer, language string) {
	defer close(s.events)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var buf []byte
	sampleRate := 16000
	interimAt := 0

	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-r.chunks:
			buf = append(buf, ch.data...)
			if ch.sampleRate > 0 {
				sampleRate = ch.sampleRate
			}
		case <-ticker.C:
			if len(buf) == 0 || len(buf) == interimAt {
				continue
			}
			res, err := s.transcribe(ctx, r, buf, sampleRate, language)
			if err != nil {
				// Interim failures are cosmetic; the commit decides.
				log.Printf("live: interim transcription failed: %v", err)
				continue
			}
			interimAt = len(buf)
			s.emit(ctx, Event{Type: EventInterim, Text: res.Text, Confidence: res.Confidence})
		case done := <-r.commits:
			if len(buf) > 0 {
				res, err := s.transcribe(ctx, r, buf, sampleRate, language)
				switch {
				case err == nil:
					s.emit(ctx, Event{Type: EventFinal, Text: strings.TrimSpace(res.Text), Confidence: res.Confidence})
				case ctx.Err() != nil:
				default:
					s.emit(ctx, Event{Type: EventError, Code: "recognition_failed", Detail: err.Error()})
				}
			}
			close(done)
			return
		}
	}
}

func (s *gatewayStream) transcribe(ctx context.Context, r *GatewayRecognizer, pcm []byte, sampleRate int, language string) (gateway.TranscriptionResult, error) {
	wavBytes, err := audio.EncodeWAVPCM16LE(pcm, sampleRate, 1)
	if err != nil {
		return gateway.TranscriptionResult{}, err
	}
	return r.gw.TranscribeVoice(ctx, wavBytes, "live.wav", language)
}

func (s *gatewayStream) emit(ctx context.Context, evt Event) {
	select {
	case s.events <- evt:
	case <-ctx.Done():
	}
}
