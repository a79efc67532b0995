// Package prefs is the per-profile preference store. Values are stored as
// JSON text. Reads never fail: unset keys and corrupt values both read as
// absent, and a failing backend is replaced by an in-memory map for the rest
// of the store's life.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/store"
)

// Backend is the persistent key/value store behind a profile.
// *store.Client satisfies it.
type Backend interface {
	GetPreference(ctx context.Context, profile, key string) (string, error)
	SetPreference(ctx context.Context, profile, key, value string) error
	DeletePreference(ctx context.Context, profile, key string) error
	ListPreferenceKeys(ctx context.Context, profile, prefix string) ([]string, error)
}

// Store reads and writes the preferences of one profile.
type Store struct {
	profile string
	logger  *slog.Logger

	mu       sync.Mutex
	backend  Backend
	memory   map[string]string
	fallback bool
}

// New returns a store for profile. A nil backend starts in memory.
func New(backend Backend, profile string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		profile: profile,
		backend: backend,
		memory:  make(map[string]string),
		logger:  logger.With(slog.String("component", "prefs"), slog.String("profile", profile)),
	}
	if backend == nil {
		s.fallback = true
	}
	return s
}

// Profile returns the profile id the store is scoped to.
func (s *Store) Profile() string { return s.profile }

// InMemory reports whether the store has fallen back to the in-memory map.
func (s *Store) InMemory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// switchToMemoryLocked keeps the store usable after a backend failure.
func (s *Store) switchToMemoryLocked(op string, err error) {
	if s.fallback {
		return
	}
	s.fallback = true
	logging.LogWarn(s.logger, "preference storage unavailable, using in-memory fallback", err,
		slog.String("op", op))
}

func (s *Store) readRaw(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fallback {
		v, err := s.backend.GetPreference(context.Background(), s.profile, key)
		switch {
		case err == nil:
			return v, true
		case errors.Is(err, store.ErrNotFound):
			return "", false
		default:
			s.switchToMemoryLocked("get", err)
		}
	}
	v, ok := s.memory[key]
	return v, ok
}

func (s *Store) writeRaw(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fallback {
		err := s.backend.SetPreference(context.Background(), s.profile, key, value)
		if err == nil {
			return
		}
		s.switchToMemoryLocked("set", err)
	}
	s.memory[key] = value
}

// Get returns the stored JSON for key, or nil when the key is unset or the
// stored text is not valid JSON.
func (s *Store) Get(key string) json.RawMessage {
	raw, ok := s.readRaw(key)
	if !ok || !json.Valid([]byte(raw)) {
		return nil
	}
	return json.RawMessage(raw)
}

// GetInto decodes the stored value for key into v and reports whether it did.
func (s *Store) GetInto(key string, v any) bool {
	raw := s.Get(key)
	if raw == nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Set stores v under key as JSON. Values that cannot be encoded are dropped
// with a warning.
func (s *Store) Set(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.LogWarn(s.logger, "preference value not serializable", err, slog.String("key", key))
		return
	}
	s.writeRaw(key, string(data))
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fallback {
		err := s.backend.DeletePreference(context.Background(), s.profile, key)
		if err == nil {
			return
		}
		s.switchToMemoryLocked("delete", err)
	}
	delete(s.memory, key)
}

// keysWithPrefix lists stored keys starting with prefix.
func (s *Store) keysWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fallback {
		keys, err := s.backend.ListPreferenceKeys(context.Background(), s.profile, prefix)
		if err == nil {
			return keys
		}
		s.switchToMemoryLocked("list", err)
	}
	var keys []string
	for k := range s.memory {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys
}
