package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/history"
)

// RemoteSynthesizer is the gateway surface the dispatcher needs.
type RemoteSynthesizer interface {
	Synthesize(ctx context.Context, req gateway.SynthesisRequest) ([]byte, error)
	SynthesizeWithProfile(ctx context.Context, text, profileID string) ([]byte, error)
}

// Synthesizer is the local on-device fallback primitive.
type Synthesizer interface {
	Speak(ctx context.Context, text, language string, rate float64) error
}

// Player plays back a remote audio clip and returns when done.
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
}

// Request describes one synthesis operation.
type Request struct {
	Text      string
	VoiceID   string
	ProfileID string
	Language  string
	Rate      float64
	Stability float64
	Similar   float64
}

// Result reports how the request was satisfied.
type Result struct {
	Source   string // "remote" or "local"
	Degraded bool
	Entry    history.Entry
}

// Dispatcher routes synthesis to the remote backend and falls back to
// local synthesis on any failure. At most one utterance is audible at a
// time: a new Speak cancels whatever is currently playing.
type Dispatcher struct {
	remote  RemoteSynthesizer
	local   Synthesizer
	player  Player
	hist    *history.Store
	playing atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

func NewDispatcher(remote RemoteSynthesizer, local Synthesizer, player Player, hist *history.Store) *Dispatcher {
	return &Dispatcher{
		remote: remote,
		local:  local,
		player: player,
		hist:   hist,
	}
}

// IsPlaying reports whether an utterance is currently audible.
func (d *Dispatcher) IsPlaying() bool { return d.playing.Load() }

// Speak synthesizes and plays text. Remote failure is recovered through
// the local synthesizer with the same language and rate; the user
// always hears something unless both paths fail.
func (d *Dispatcher) Speak(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, &gateway.ValidationError{Field: "text", Reason: "must not be empty"}
	}

	ctx, release := d.takePlayback(ctx)
	defer release()

	res, err := d.speakOnce(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if d.hist != nil {
		res.Entry = d.hist.Append(ctx, history.Entry{
			Kind:    history.KindTextToSpeech,
			Content: req.Text,
			Metadata: history.Metadata{
				VoiceModelID: firstNonEmpty(req.ProfileID, req.VoiceID),
				Language:     req.Language,
			},
		})
	}
	return res, nil
}

func (d *Dispatcher) speakOnce(ctx context.Context, req Request) (Result, error) {
	audio, err := d.synthesizeRemote(ctx, req)
	if err == nil {
		d.playing.Store(true)
		playErr := d.player.Play(ctx, audio, "audio/mpeg")
		d.playing.Store(false)
		if playErr != nil {
			return Result{}, fmt.Errorf("playback: %w", playErr)
		}
		return Result{Source: "remote"}, nil
	}

	// Cancellation by a newer Speak is not a failure to recover from.
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	log.Printf("speech: remote synthesis failed, using local fallback: %v", err)

	d.playing.Store(true)
	localErr := d.local.Speak(ctx, req.Text, req.Language, req.Rate)
	d.playing.Store(false)
	if localErr != nil {
		return Result{}, fmt.Errorf("local synthesis after remote failure (%v): %w", err, localErr)
	}
	return Result{Source: "local", Degraded: true}, nil
}

func (d *Dispatcher) synthesizeRemote(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.ProfileID) != "" {
		return d.remote.SynthesizeWithProfile(ctx, req.Text, req.ProfileID)
	}
	return d.remote.Synthesize(ctx, gateway.SynthesisRequest{
		Text:         req.Text,
		VoiceID:      req.VoiceID,
		Stability:    defaultFloat(req.Stability, 0.5),
		Similarity:   defaultFloat(req.Similar, 0.75),
		SpeakerBoost: true,
	})
}

// takePlayback cancels any in-flight playback and installs a cancel
// handle for the new one. The release func only clears the handle if a
// newer Speak has not already replaced it.
func (d *Dispatcher) takePlayback(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.gen++
	gen := d.gen
	d.cancel = cancel
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		if d.gen == gen {
			d.cancel = nil
		}
		d.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Stop silences any current playback without starting a new one.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func defaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
