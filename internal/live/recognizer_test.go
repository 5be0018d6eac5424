package live

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/gateway"
)

type fakeGatewayTranscriber struct {
	mu    sync.Mutex
	calls int
	fail  bool
	delay time.Duration
	lasts []int
}

func (f *fakeGatewayTranscriber) TranscribeVoice(ctx context.Context, audioData []byte, filename, language string) (gateway.TranscriptionResult, error) {
	f.mu.Lock()
	f.calls++
	f.lasts = append(f.lasts, len(audioData))
	fail := f.fail
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return gateway.TranscriptionResult{}, &gateway.TransportError{Op: "transcribe-voice", StatusCode: 502}
	}
	return gateway.TranscriptionResult{Success: true, Text: "utterance text", Confidence: 0.9, Language: language}, nil
}

func collectUntil(t *testing.T, events <-chan Event, want EventType) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, evt)
			if evt.Type == want {
				return got
			}
		case <-timeout:
			t.Fatalf("no %s event, got %+v", want, got)
		}
	}
}

func TestGatewayRecognizerCommitEmitsFinalAndEndsStream(t *testing.T) {
	gw := &fakeGatewayTranscriber{}
	rec := NewGatewayRecognizer(gw, time.Hour)

	stream, err := rec.StartStream(context.Background(), "en")
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	rec.PushChunk([]byte{0x01, 0x00, 0x02, 0x00}, 16000)
	rec.Commit()

	events := collectUntil(t, stream.Events(), EventFinal)
	final := events[len(events)-1]
	if final.Text != "utterance text" || final.Confidence != 0.9 {
		t.Errorf("final = %+v", final)
	}

	// The stream must end after the final event.
	select {
	case _, ok := <-stream.Events():
		if ok {
			t.Fatalf("stream emitted after final")
		}
	case <-time.After(time.Second):
		t.Fatalf("stream did not close after final")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.calls != 1 {
		t.Fatalf("transcriber calls = %d, want 1", gw.calls)
	}
	if gw.lasts[0] != audio.WAVHeaderSize+4 {
		t.Errorf("uploaded bytes = %d, want WAV header plus 4 PCM bytes", gw.lasts[0])
	}
}

func TestGatewayRecognizerEmitsInterimWhileBuffering(t *testing.T) {
	gw := &fakeGatewayTranscriber{}
	rec := NewGatewayRecognizer(gw, 5*time.Millisecond)

	stream, err := rec.StartStream(context.Background(), "en")
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	rec.PushChunk([]byte{0x01, 0x00}, 16000)

	events := collectUntil(t, stream.Events(), EventInterim)
	if events[len(events)-1].Text != "utterance text" {
		t.Errorf("interim = %+v", events[len(events)-1])
	}

	rec.Commit()
	collectUntil(t, stream.Events(), EventFinal)
}

func TestGatewayRecognizerFinalFailureEmitsError(t *testing.T) {
	gw := &fakeGatewayTranscriber{fail: true}
	rec := NewGatewayRecognizer(gw, time.Hour)

	stream, err := rec.StartStream(context.Background(), "en")
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	rec.PushChunk([]byte{0x01, 0x00}, 16000)
	rec.Commit()

	events := collectUntil(t, stream.Events(), EventError)
	evt := events[len(events)-1]
	if evt.Code != "recognition_failed" || !strings.Contains(evt.Detail, "502") {
		t.Errorf("error event = %+v", evt)
	}
}

func TestStopAfterCommitKeepsFinalizedText(t *testing.T) {
	gw := &fakeGatewayTranscriber{delay: 100 * time.Millisecond}
	rec := NewGatewayRecognizer(gw, 10*time.Millisecond)

	s := NewSession(Config{Recognizer: rec, Language: "en"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec.PushChunk([]byte{0x01, 0x00}, 16000)
	waitFor(t, s, func(snap Snapshot) bool { return snap.InterimText != "" })

	// A slow transcription must still finalize before the teardown
	// cancels the stream.
	select {
	case <-rec.Commit():
	case <-time.After(2 * time.Second):
		t.Fatalf("commit never resolved")
	}
	s.Stop()

	snap := s.Snapshot()
	if snap.Active {
		t.Fatalf("session should be idle after Stop")
	}
	if snap.CommittedText != "utterance text" {
		t.Fatalf("committed = %q, the pending utterance must survive the stop", snap.CommittedText)
	}
	if snap.InterimText != "" {
		t.Errorf("interim = %q, want cleared by the final", snap.InterimText)
	}
}

func TestGatewayRecognizerEmptyCommitEndsCleanly(t *testing.T) {
	gw := &fakeGatewayTranscriber{}
	rec := NewGatewayRecognizer(gw, time.Hour)

	stream, err := rec.StartStream(context.Background(), "en")
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	rec.Commit()

	select {
	case evt, ok := <-stream.Events():
		if ok {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("stream did not close on empty commit")
	}
	if gw.calls != 0 {
		t.Fatalf("no transcription should happen for an empty buffer")
	}
}
