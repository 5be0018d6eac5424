package live

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/voicebridge/voicebridge/internal/miclease"
)

type EventType string

const (
	// EventInterim carries a revisable hypothesis for the current utterance.
	EventInterim EventType = "interim"
	// EventFinal carries a segment the recognizer will not revise further.
	EventFinal EventType = "final"
	// EventError reports a recognition failure; the session goes idle.
	EventError EventType = "error"
)

// Event is one recognition result from the underlying stream.
type Event struct {
	Type       EventType
	Text       string
	Confidence float64
	Code       string
	Detail     string
}

// Stream is one bounded recognition run. Its event channel closes when
// the stream ends; an EventError before close signals failure.
type Stream interface {
	Events() <-chan Event
	Close() error
}

// Recognizer starts continuous recognition streams.
type Recognizer interface {
	StartStream(ctx context.Context, language string) (Stream, error)
}

// Speaker receives newly finalized segments when auto-speak is on.
// Calls are fire-and-forget relative to the recognition loop.
type Speaker interface {
	SpeakAsync(text, language string)
}

var ErrAlreadyLive = errors.New("live session already running")

// Snapshot is the externally visible session state.
type Snapshot struct {
	Active        bool    `json:"active"`
	CommittedText string  `json:"committed_text"`
	InterimText   string  `json:"interim_text"`
	LastError     string  `json:"last_error,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// Session maintains the illusion of one continuous transcription over
// inherently bounded recognition streams: while live, a stream that
// ends cleanly is restarted with the accumulated text preserved.
type Session struct {
	recognizer Recognizer
	speaker    Speaker
	lease      *miclease.Lease
	language   string
	autoSpeak  bool

	mu        sync.Mutex
	active    bool
	committed []string
	interim   string
	lastError string
	cancel    context.CancelFunc
	done      chan struct{}

	updates chan Snapshot
}

type Config struct {
	Recognizer Recognizer
	Speaker    Speaker
	Lease      *miclease.Lease
	Language   string
	AutoSpeak  bool
}

func NewSession(cfg Config) *Session {
	lang := strings.TrimSpace(cfg.Language)
	if lang == "" {
		lang = "en"
	}
	return &Session{
		recognizer: cfg.Recognizer,
		speaker:    cfg.Speaker,
		lease:      cfg.Lease,
		language:   lang,
		autoSpeak:  cfg.AutoSpeak,
		updates:    make(chan Snapshot, 64),
	}
}

// Updates delivers a snapshot after every state change. Slow consumers
// lose intermediate snapshots, never the latest state.
func (s *Session) Updates() <-chan Snapshot { return s.updates }

// Start clears accumulated text and begins streaming recognition.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyLive
	}
	if s.lease != nil {
		if err := s.lease.Acquire("live"); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.active = true
	s.committed = nil
	s.interim = ""
	s.lastError = ""
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.publish()

	go func() {
		defer close(done)
		s.run(runCtx)
	}()
	return nil
}

// Stop signals the stream to end. Accumulated text is left in place
// for copy/save; only Start clears it.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if s.lease != nil {
		s.lease.Release("live")
	}
	s.publish()
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Active:        s.active,
		CommittedText: strings.Join(s.committed, " "),
		InterimText:   s.interim,
		LastError:     s.lastError,
	}
}

func (s *Session) run(ctx context.Context) {
	for {
		stream, err := s.recognizer.StartStream(ctx, s.language)
		if err != nil {
			s.fail("stream_start_failed", err.Error())
			return
		}

		failed := s.consume(ctx, stream)
		_ = stream.Close()
		if failed {
			return
		}

		if ctx.Err() != nil {
			// Parent cancellation without Stop; go idle.
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
			if s.lease != nil {
				s.lease.Release("live")
			}
			s.publish()
			return
		}

		// Clean end of a bounded stream. Keep going while still live;
		// committed text survives the restart.
		s.mu.Lock()
		stillActive := s.active
		s.mu.Unlock()
		if !stillActive {
			return
		}
	}
}

// consume applies stream events in arrival order. Returns true if the
// stream failed (no restart), false on clean end.
func (s *Session) consume(ctx context.Context, stream Stream) bool {
	for {
		select {
		case <-ctx.Done():
			// Events the stream already emitted must still land; a
			// committed utterance is not dropped by the cancellation.
			for {
				select {
				case evt, ok := <-stream.Events():
					if !ok {
						return false
					}
					if s.apply(evt) {
						return true
					}
				default:
					return false
				}
			}
		case evt, ok := <-stream.Events():
			if !ok {
				return false
			}
			if s.apply(evt) {
				return true
			}
		}
	}
}

// apply folds one event into the session state. Returns true on a
// stream failure.
func (s *Session) apply(evt Event) bool {
	switch evt.Type {
	case EventInterim:
		s.mu.Lock()
		s.interim = evt.Text
		s.mu.Unlock()
		s.publish()
	case EventFinal:
		text := strings.TrimSpace(evt.Text)
		s.mu.Lock()
		if text != "" {
			s.committed = append(s.committed, text)
		}
		s.interim = ""
		autoSpeak := s.autoSpeak && text != "" && s.speaker != nil
		s.mu.Unlock()
		s.publish()
		if autoSpeak {
			// Must not block further recognition events.
			s.speaker.SpeakAsync(text, s.language)
		}
	case EventError:
		s.fail(evt.Code, evt.Detail)
		return true
	}
	return false
}

// fail transitions to idle and surfaces the error. Errors never
// auto-restart; only clean stream ends do.
func (s *Session) fail(code, detail string) {
	log.Printf("live: recognition error %s: %s", code, detail)
	s.mu.Lock()
	s.active = false
	s.lastError = code
	s.mu.Unlock()
	if s.lease != nil {
		s.lease.Release("live")
	}
	s.publish()
}

func (s *Session) publish() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	for {
		select {
		case s.updates <- snap:
			return
		default:
			// Queue full: drop the oldest snapshot so the latest wins.
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
