package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeLiveState        MessageType = "live_state"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionCommit = "commit"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries one captured PCM16LE audio chunk.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

// ClientControl drives the live session lifecycle.
type ClientControl struct {
	Type      MessageType `json:"type"`
	Action    string      `json:"action"`
	Language  string      `json:"language,omitempty"`
	AutoSpeak bool        `json:"auto_speak,omitempty"`
}

// LiveState mirrors the session snapshot to the client after every
// change: committed text grows, interim text is replaced wholesale.
type LiveState struct {
	Type          MessageType `json:"type"`
	Active        bool        `json:"active"`
	CommittedText string      `json:"committed_text"`
	InterimText   string      `json:"interim_text"`
	LastError     string      `json:"last_error,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionCommit:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
