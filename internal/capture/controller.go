package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/miclease"
)

// Mode selects the capture profile and its recording ceiling.
type Mode string

const (
	// ModeDictation is general dictation capture, flushed in fixed
	// intervals and bounded at 30s.
	ModeDictation Mode = "dictation"
	// ModeVoiceSample is personalizer sample capture, unbounded flush,
	// bounded at 10s.
	ModeVoiceSample Mode = "voice-sample"
)

const (
	DictationLimit   = 30 * time.Second
	VoiceSampleLimit = 10 * time.Second

	dictationFlushInterval = time.Second
)

func (m Mode) limit() time.Duration {
	if m == ModeVoiceSample {
		return VoiceSampleLimit
	}
	return DictationLimit
}

// DeviceError reports a microphone that is unavailable or denied. No
// history entry is written for a recording that never started.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("capture device: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

var ErrNotRecording = errors.New("no recording in progress")

// DeviceConfig is the fixed capture configuration requested from the
// platform recorder.
type DeviceConfig struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	// FlushInterval > 0 asks the recorder to deliver chunks at a fixed
	// cadence; zero means one chunk on stop.
	FlushInterval time.Duration
}

// Device is an open recording stream. Chunks arrive on the channel
// returned by Start; the channel closes after Stop.
type Device interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop() error
}

// DeviceOpener abstracts microphone access.
type DeviceOpener interface {
	Open(ctx context.Context, cfg DeviceConfig) (Device, error)
}

// Controller is the recording state machine: idle, recording, back to
// idle on stop. At most one recording session exists at a time.
type Controller struct {
	opener   DeviceOpener
	pipeline *Pipeline
	lease    *miclease.Lease

	mu        sync.Mutex
	recording bool
	seq       uint64
	recID     string
	mode      Mode
	devCfg    DeviceConfig
	device    Device
	cancel    context.CancelFunc
	chunks    [][]byte
	collected chan struct{}
	startedAt time.Time
	autoStop  *time.Timer

	results chan Result

	// limitFor is swappable in tests; defaults to the mode ceilings.
	limitFor func(Mode) time.Duration
}

func NewController(opener DeviceOpener, pipeline *Pipeline, lease *miclease.Lease) *Controller {
	return &Controller{
		opener:   opener,
		pipeline: pipeline,
		lease:    lease,
		results:  make(chan Result, 8),
		limitFor: Mode.limit,
	}
}

// Results delivers completed (or degraded) transcription results,
// including those produced by auto-stop. Stale results are never
// delivered here.
func (c *Controller) Results() <-chan Result { return c.results }

// Recording reports whether a capture session is in progress.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Start opens the microphone and begins accumulating chunks. Starting
// while already recording is a no-op; the recording id of the session
// in progress is returned.
func (c *Controller) Start(ctx context.Context, mode Mode) (string, error) {
	c.mu.Lock()
	if c.recording {
		id := c.recID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	if c.lease != nil {
		if err := c.lease.Acquire("capture"); err != nil {
			return "", err
		}
	}

	cfg := DeviceConfig{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
	if mode == ModeDictation {
		cfg.FlushInterval = dictationFlushInterval
	}

	device, err := c.opener.Open(ctx, cfg)
	if err != nil {
		if c.lease != nil {
			c.lease.Release("capture")
		}
		return "", &DeviceError{Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	chunkCh, err := device.Start(runCtx)
	if err != nil {
		cancel()
		_ = device.Stop()
		if c.lease != nil {
			c.lease.Release("capture")
		}
		return "", &DeviceError{Err: err}
	}

	recID := uuid.NewString()
	collected := make(chan struct{})

	c.mu.Lock()
	c.recording = true
	c.seq++
	c.recID = recID
	c.mode = mode
	c.devCfg = cfg
	c.device = device
	c.cancel = cancel
	c.chunks = nil
	c.collected = collected
	c.startedAt = time.Now()
	// Runaway recordings are bounded as if the user had stopped.
	c.autoStop = time.AfterFunc(c.limitFor(mode), func() {
		_, _ = c.Stop(context.Background())
	})
	c.mu.Unlock()

	go func() {
		defer close(collected)
		for chunk := range chunkCh {
			c.mu.Lock()
			c.chunks = append(c.chunks, chunk)
			c.mu.Unlock()
		}
	}()

	return recID, nil
}

// Stop finalizes the chunk sequence, releases the device and runs the
// post-processing pipeline. The recording always yields a visible
// result and a history entry, even on total backend failure.
func (c *Controller) Stop(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return Result{}, ErrNotRecording
	}
	c.recording = false
	seq := c.seq
	recID := c.recID
	mode := c.mode
	devCfg := c.devCfg
	device := c.device
	cancel := c.cancel
	collected := c.collected
	startedAt := c.startedAt
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
	c.device = nil
	c.cancel = nil
	c.mu.Unlock()

	_ = device.Stop()
	cancel()
	<-collected

	c.mu.Lock()
	raw := joinChunks(c.chunks)
	c.chunks = nil
	c.mu.Unlock()

	if c.lease != nil {
		c.lease.Release("capture")
	}

	// The device delivers raw PCM16LE frames at the requested rate;
	// give them a WAV container so the backend can parse the upload.
	payload := raw
	filename := "recording.webm"
	if len(raw) > 0 && !audio.IsWAV(raw) {
		if wrapped, err := audio.EncodeWAVPCM16LE(raw, devCfg.SampleRate, devCfg.Channels); err == nil {
			payload = wrapped
			filename = "recording.wav"
		}
	}

	result, err := c.pipeline.Process(ctx, ProcessInput{
		RecordingID: recID,
		Audio:       payload,
		Filename:    filename,
		DurationSec: time.Since(startedAt).Seconds(),
		VoiceSample: mode == ModeVoiceSample,
	})
	if err != nil {
		return Result{}, err
	}

	// Stale-result guard: a newer recording owns the shared state now.
	c.mu.Lock()
	stale := c.seq != seq
	c.mu.Unlock()
	if !stale {
		select {
		case c.results <- result:
		default:
		}
	}
	return result, nil
}

func joinChunks(chunks [][]byte) []byte {
	total := 0
	for _, ch := range chunks {
		total += len(ch)
	}
	out := make([]byte, 0, total)
	for _, ch := range chunks {
		out = append(out, ch...)
	}
	return out
}
