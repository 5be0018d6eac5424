package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/live"
	"github.com/voicebridge/voicebridge/internal/protocol"
	"github.com/voicebridge/voicebridge/internal/speech"
)

// asyncSpeaker adapts the dispatcher to the live session's
// fire-and-forget auto-speak hook.
type asyncSpeaker struct {
	dispatcher *speech.Dispatcher
}

func (a *asyncSpeaker) SpeakAsync(text, language string) {
	go func() {
		_, _ = a.dispatcher.Speak(context.Background(), speech.Request{Text: text, Language: language})
	}()
}

// handleLiveWS runs one live transcription session per connection. The
// client streams PCM chunks up; state snapshots stream back after every
// change. Audio chunks are routed to the capture relay while a relay
// recording is in progress, otherwise to the live recognizer.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	prefs := s.prefs.Get()
	recognizer := live.NewGatewayRecognizer(s.backend, s.cfg.InterimInterval)
	session := live.NewSession(live.Config{
		Recognizer: recognizer,
		Speaker:    &asyncSpeaker{dispatcher: s.dispatcher},
		Lease:      s.lease,
		Language:   prefs.Language,
		AutoSpeak:  prefs.AutoSpeak,
	})
	defer session.Stop()

	outbound := make(chan any, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		wasActive := false
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-session.Updates():
				if snap.Active != wasActive {
					if snap.Active {
						s.metrics.ActiveLiveSessions.Inc()
					} else {
						s.metrics.ActiveLiveSessions.Dec()
					}
					wasActive = snap.Active
				}
				s.writeOutbound(conn, cancel, protocol.LiveState{
					Type:          protocol.TypeLiveState,
					Active:        snap.Active,
					CommittedText: snap.CommittedText,
					InterimText:   snap.InterimText,
					LastError:     snap.LastError,
				})
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				s.writeOutbound(conn, cancel, msg)
			}
		}
	}()
	defer func() {
		cancel()
		<-writerDone
		// The session goes idle with the connection; the gauge follows.
		if session.Snapshot().Active {
			s.metrics.ActiveLiveSessions.Dec()
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case outbound <- protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}:
			default:
			}
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientAudioChunk)).Inc()
			pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if err != nil {
				continue
			}
			if s.controller != nil && s.controller.Recording() {
				s.relay.Push(pcm)
				continue
			}
			recognizer.PushChunk(pcm, msg.SampleRate)
		case protocol.ClientControl:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientControl)).Inc()
			s.applyControl(ctx, session, recognizer, outbound, msg)
		}
	}
}

func (s *Server) applyControl(ctx context.Context, session *live.Session, recognizer *live.GatewayRecognizer, outbound chan<- any, msg protocol.ClientControl) {
	switch msg.Action {
	case protocol.ActionStart:
		if err := session.Start(ctx); err != nil {
			code := "live_start_failed"
			if errors.Is(err, live.ErrAlreadyLive) {
				code = "already_live"
			}
			select {
			case outbound <- protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      code,
				Retryable: true,
				Detail:    err.Error(),
			}:
			default:
			}
		}
	case protocol.ActionCommit:
		recognizer.Commit()
	case protocol.ActionStop:
		// The pending utterance finalizes before the session tears
		// down, so a stop right after speaking loses nothing.
		select {
		case <-recognizer.Commit():
		case <-time.After(15 * time.Second):
		case <-ctx.Done():
		}
		session.Stop()
	}
}

func (s *Server) writeOutbound(conn *websocket.Conn, cancel context.CancelFunc, msg any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		cancel()
		return
	}
	if t, ok := outboundTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
	}
}

func outboundTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.LiveState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
