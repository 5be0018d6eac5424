package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/kvstore"
)

// Kind distinguishes the two operation collections.
type Kind string

const (
	KindSpeechToText Kind = "speech-to-text"
	KindTextToSpeech Kind = "text-to-speech"
)

// MaxEntries caps each collection; oldest entries are evicted first.
const MaxEntries = 50

var ErrNotFound = errors.New("history entry not found")

// Metadata carries kind-specific fields. Accuracy is set for
// speech-to-text entries, VoiceModelID for text-to-speech entries.
type Metadata struct {
	Accuracy     float64 `json:"accuracy,omitempty"`
	VoiceModelID string  `json:"voice_model_id,omitempty"`
	Language     string  `json:"language,omitempty"`
	DurationSec  float64 `json:"duration_sec,omitempty"`
}

// Entry is one completed speech-to-text or text-to-speech operation.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Favorite  bool      `json:"favorite"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps a capped, de-duplicated history per kind, persisted
// through the injected storage. Storage failures are logged and the
// in-memory state keeps serving for the rest of the session.
type Store struct {
	mu      sync.RWMutex
	storage kvstore.Storage
	entries map[Kind][]Entry
}

func storageKey(kind Kind) string { return "history:" + string(kind) }

// NewStore loads both collections from storage and runs a dedupe pass
// to repair any prior double-write.
func NewStore(ctx context.Context, storage kvstore.Storage) *Store {
	s := &Store{
		storage: storage,
		entries: make(map[Kind][]Entry),
	}
	for _, kind := range []Kind{KindSpeechToText, KindTextToSpeech} {
		raw, ok, err := storage.Get(ctx, storageKey(kind))
		if err != nil {
			log.Printf("history: load %s failed: %v", kind, err)
			continue
		}
		if !ok {
			continue
		}
		var loaded []Entry
		if err := json.Unmarshal(raw, &loaded); err != nil {
			log.Printf("history: decode %s failed: %v", kind, err)
			continue
		}
		s.entries[kind] = loaded
	}
	s.Dedupe(ctx)
	return s
}

// Append prepends the entry to its kind's collection, truncates to the
// most recent MaxEntries and persists. A missing ID or timestamp is
// filled in.
func (s *Store) Append(ctx context.Context, entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	list := append([]Entry{entry}, s.entries[entry.Kind]...)
	if len(list) > MaxEntries {
		list = list[:MaxEntries]
	}
	s.entries[entry.Kind] = list
	s.mu.Unlock()

	s.persist(ctx, entry.Kind)
	return entry
}

// List returns the entries for a kind, newest first.
func (s *Store) List(kind Kind) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries[kind]))
	copy(out, s.entries[kind])
	return out
}

// Dedupe collapses each collection to one entry per id, keeping the
// most recent write for duplicates.
func (s *Store) Dedupe(ctx context.Context) {
	var changed []Kind

	s.mu.Lock()
	for kind, list := range s.entries {
		seen := make(map[string]bool, len(list))
		out := list[:0]
		for _, e := range list {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
		if len(out) != len(list) {
			s.entries[kind] = out
			changed = append(changed, kind)
		}
	}
	s.mu.Unlock()

	for _, kind := range changed {
		s.persist(ctx, kind)
	}
}

// Clear removes one kind's collection from memory and storage.
func (s *Store) Clear(ctx context.Context, kind Kind) {
	s.mu.Lock()
	delete(s.entries, kind)
	s.mu.Unlock()

	if err := s.storage.Remove(ctx, storageKey(kind)); err != nil {
		log.Printf("history: clear %s failed: %v", kind, err)
	}
}

// ClearAll removes every collection.
func (s *Store) ClearAll(ctx context.Context) {
	for _, kind := range []Kind{KindSpeechToText, KindTextToSpeech} {
		s.Clear(ctx, kind)
	}
}

// ToggleFavorite flips the favorite flag on the matching entry and
// persists immediately.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (Entry, error) {
	var (
		updated Entry
		kind    Kind
		found   bool
	)

	s.mu.Lock()
	for k, list := range s.entries {
		for i := range list {
			if list[i].ID == id {
				list[i].Favorite = !list[i].Favorite
				updated = list[i]
				kind = k
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return Entry{}, fmt.Errorf("toggle favorite %q: %w", id, ErrNotFound)
	}
	s.persist(ctx, kind)
	return updated, nil
}

// Size returns the current number of entries for a kind.
func (s *Store) Size(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[kind])
}

func (s *Store) persist(ctx context.Context, kind Kind) {
	s.mu.RLock()
	raw, err := json.Marshal(s.entries[kind])
	s.mu.RUnlock()
	if err != nil {
		log.Printf("history: encode %s failed: %v", kind, err)
		return
	}
	if err := s.storage.Set(ctx, storageKey(kind), raw); err != nil {
		log.Printf("history: persist %s failed: %v", kind, err)
	}
}
