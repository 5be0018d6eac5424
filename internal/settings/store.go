package settings

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/voicebridge/voicebridge/internal/kvstore"
)

const storageKey = "settings"

// Settings are the user preferences applied as defaults to capture,
// live transcription and synthesis requests.
type Settings struct {
	Language     string  `json:"language"`
	AutoSpeak    bool    `json:"auto_speak"`
	VoiceID      string  `json:"voice_id,omitempty"`
	ProfileID    string  `json:"profile_id,omitempty"`
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
}

// Store persists settings through the injected storage. As with
// history, storage failures are logged and the in-memory copy keeps
// serving.
type Store struct {
	mu      sync.RWMutex
	storage kvstore.Storage
	current Settings
}

// NewStore loads persisted settings, falling back to defaults for
// anything unset.
func NewStore(ctx context.Context, storage kvstore.Storage, defaults Settings) *Store {
	s := &Store{storage: storage, current: defaults}

	raw, ok, err := storage.Get(ctx, storageKey)
	if err != nil {
		log.Printf("settings: load failed: %v", err)
		return s
	}
	if !ok {
		return s
	}
	var loaded Settings
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Printf("settings: decode failed: %v", err)
		return s
	}
	if strings.TrimSpace(loaded.Language) == "" {
		loaded.Language = defaults.Language
	}
	s.current = loaded
	return s
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update replaces the settings and persists. An empty language keeps
// the previous value.
func (s *Store) Update(ctx context.Context, next Settings) Settings {
	s.mu.Lock()
	if strings.TrimSpace(next.Language) == "" {
		next.Language = s.current.Language
	}
	s.current = next
	s.mu.Unlock()

	raw, err := json.Marshal(next)
	if err != nil {
		log.Printf("settings: encode failed: %v", err)
		return next
	}
	if err := s.storage.Set(ctx, storageKey, raw); err != nil {
		log.Printf("settings: persist failed: %v", err)
	}
	return next
}
