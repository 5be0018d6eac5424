package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/history"
	"github.com/voicebridge/voicebridge/internal/kvstore"
	"github.com/voicebridge/voicebridge/internal/miclease"
)

type fakeDevice struct {
	ch     chan []byte
	closed bool
	mu     sync.Mutex
}

func (d *fakeDevice) Start(ctx context.Context) (<-chan []byte, error) { return d.ch, nil }

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	return nil
}

func (d *fakeDevice) push(chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.ch <- chunk
	}
}

type fakeOpener struct {
	mu      sync.Mutex
	device  *fakeDevice
	openErr error
	lastCfg DeviceConfig
}

func (o *fakeOpener) Open(ctx context.Context, cfg DeviceConfig) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastCfg = cfg
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.device = &fakeDevice{ch: make(chan []byte, 16)}
	return o.device, nil
}

type fakeTranscriber struct {
	mu       sync.Mutex
	fail     bool
	lastReq  gateway.TranscribeRequest
	block    chan struct{}
	requests int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req gateway.TranscribeRequest) (gateway.TranscriptionResult, error) {
	if len(req.Audio) == 0 {
		return gateway.TranscriptionResult{}, &gateway.ValidationError{Field: "audio", Reason: "must not be empty"}
	}
	f.mu.Lock()
	f.requests++
	f.lastReq = req
	fail := f.fail
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return gateway.TranscriptionResult{}, &gateway.TransportError{Op: "transcribe", StatusCode: 502}
	}
	return gateway.TranscriptionResult{Success: true, Text: "captured words", Confidence: 0.91, Language: req.Language}, nil
}

func newTestController(t *testing.T, tr *fakeTranscriber) (*Controller, *fakeOpener, *history.Store) {
	t.Helper()
	hist := history.NewStore(context.Background(), kvstore.NewInMemoryStorage())
	opener := &fakeOpener{}
	pipeline := NewPipeline(tr, hist, "en")
	c := NewController(opener, pipeline, miclease.New())
	return c, opener, hist
}

func TestStartStopRunsPipeline(t *testing.T) {
	tr := &fakeTranscriber{}
	c, opener, hist := newTestController(t, tr)

	id, err := c.Start(context.Background(), ModeDictation)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id == "" {
		t.Fatalf("recording id should not be empty")
	}
	if !c.Recording() {
		t.Fatalf("controller should be recording after Start")
	}
	if opener.lastCfg.Channels != 1 || !opener.lastCfg.EchoCancellation || !opener.lastCfg.NoiseSuppression {
		t.Errorf("device config = %+v, want mono with echo cancellation and noise suppression", opener.lastCfg)
	}

	opener.device.push([]byte("chunk1"))
	opener.device.push([]byte("chunk2"))

	res, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.Recording() {
		t.Fatalf("controller should be idle after Stop")
	}
	if res.Text != "captured words" || res.Degraded {
		t.Errorf("result = %+v", res)
	}
	if got := tr.lastReq.Audio[audio.WAVHeaderSize:]; string(got) != "chunk1chunk2" {
		t.Errorf("uploaded audio payload = %q, want joined chunks", got)
	}

	entries := hist.List(history.KindSpeechToText)
	if len(entries) != 1 || entries[0].Content != "captured words" {
		t.Fatalf("history = %+v, want one speech-to-text entry", entries)
	}
}

func TestStopWrapsDevicePCMInWAVContainer(t *testing.T) {
	tr := &fakeTranscriber{}
	c, opener, _ := newTestController(t, tr)

	if _, err := c.Start(context.Background(), ModeDictation); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pcm := make([]byte, 3200)
	opener.device.push(pcm)

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if !audio.IsWAV(tr.lastReq.Audio) {
		t.Fatalf("uploaded audio must carry a WAV container, got %d headerless bytes", len(tr.lastReq.Audio))
	}
	if got := len(tr.lastReq.Audio); got != audio.WAVHeaderSize+len(pcm) {
		t.Errorf("uploaded bytes = %d, want header plus %d PCM bytes", got, len(pcm))
	}
	if tr.lastReq.Filename != "recording.wav" {
		t.Errorf("filename = %q, want recording.wav", tr.lastReq.Filename)
	}
}

func TestStartWhileRecordingIsNoOp(t *testing.T) {
	tr := &fakeTranscriber{}
	c, opener, _ := newTestController(t, tr)

	first, err := c.Start(context.Background(), ModeDictation)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	second, err := c.Start(context.Background(), ModeDictation)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if first != second {
		t.Fatalf("second Start must return the in-progress recording id")
	}

	opener.device.push([]byte("x"))
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestDeviceFailureLeavesIdleWithoutHistory(t *testing.T) {
	tr := &fakeTranscriber{}
	c, opener, hist := newTestController(t, tr)
	opener.openErr = errors.New("permission denied")

	_, err := c.Start(context.Background(), ModeDictation)
	var dErr *DeviceError
	if !errors.As(err, &dErr) {
		t.Fatalf("error = %v, want DeviceError", err)
	}
	if c.Recording() {
		t.Fatalf("controller must stay idle on device failure")
	}
	if len(hist.List(history.KindSpeechToText)) != 0 {
		t.Fatalf("no history entry for a recording that never started")
	}

	// The lease must be free again for the next flow.
	opener.openErr = nil
	if _, err := c.Start(context.Background(), ModeDictation); err != nil {
		t.Fatalf("Start() after device failure error = %v", err)
	}
	opener.device.push([]byte("x"))
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestTransportFailureYieldsDegradedResultAndHistory(t *testing.T) {
	tr := &fakeTranscriber{fail: true}
	c, opener, hist := newTestController(t, tr)

	if _, err := c.Start(context.Background(), ModeDictation); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	opener.device.push([]byte("audio"))

	res, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !res.Degraded {
		t.Fatalf("result should be degraded on transport failure")
	}
	if res.Text != FallbackTranscript {
		t.Errorf("text = %q, want placeholder", res.Text)
	}
	if res.Confidence != FallbackConfidence {
		t.Errorf("confidence = %v, want %v", res.Confidence, FallbackConfidence)
	}

	entries := hist.List(history.KindSpeechToText)
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want exactly 1", len(entries))
	}
	if entries[0].Metadata.Accuracy != FallbackConfidence {
		t.Errorf("entry accuracy = %v, want fallback confidence", entries[0].Metadata.Accuracy)
	}
}

func TestAutoStopBoundsRecording(t *testing.T) {
	tr := &fakeTranscriber{}
	c, opener, _ := newTestController(t, tr)
	c.limitFor = func(Mode) time.Duration { return 20 * time.Millisecond }

	if _, err := c.Start(context.Background(), ModeVoiceSample); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	opener.device.push([]byte("sample"))

	select {
	case res := <-c.Results():
		if res.Text != "captured words" {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("auto-stop never produced a result")
	}
	if c.Recording() {
		t.Fatalf("controller should be idle after auto-stop")
	}
}

func TestStaleResultIsNotDelivered(t *testing.T) {
	tr := &fakeTranscriber{block: make(chan struct{})}
	c, opener, _ := newTestController(t, tr)

	if _, err := c.Start(context.Background(), ModeDictation); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	opener.device.push([]byte("old"))

	stopDone := make(chan Result, 1)
	go func() {
		res, err := c.Stop(context.Background())
		if err == nil {
			stopDone <- res
		}
	}()

	// Wait until the upload is in flight, then begin a new recording.
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		started := tr.requests == 1
		tr.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first upload never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := c.Start(context.Background(), ModeDictation); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	close(tr.block)
	<-stopDone

	select {
	case res := <-c.Results():
		t.Fatalf("stale result %+v must not be delivered", res)
	case <-time.After(50 * time.Millisecond):
	}
}
