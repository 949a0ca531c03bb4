// Package storage handles persistence of the service state document.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tyflo-push/pkg/notifier"
)

// ErrSkipSave can be returned from a Mutate callback to finish the cycle
// without writing the document back.
var ErrSkipSave = errors.New("storage: skip save")

// Backend reads and writes the raw state document.
// Read must return an error matching os.ErrNotExist when no document exists yet.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ensure(ctx context.Context) error
	Location() string
}

// Store handles state persistence.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new storage handler.
func New(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Location describes where the document lives, for logs.
func (s *Store) Location() string {
	return s.backend.Location()
}

// EnsureDirectory prepares the backend (creates the state directory for the
// file backend). It is idempotent.
func (s *Store) EnsureDirectory(ctx context.Context) error {
	if err := s.backend.Ensure(ctx); err != nil {
		return fmt.Errorf("ensure state location: %w", err)
	}
	return nil
}

// Load reads the state document. A missing, unreadable or corrupt document
// yields a fresh default state; Load never fails.
func (s *Store) Load(ctx context.Context) *notifier.State {
	state := notifier.NewState(s.now())

	data, err := s.backend.Read(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("No state document yet, starting clean", "location", s.backend.Location())
		} else {
			s.logger.Warn("Failed to read state, starting clean", "location", s.backend.Location(), "error", err)
		}
		return state
	}

	// Fields present in the document override the defaults.
	if err := json.Unmarshal(data, state); err != nil {
		s.logger.Warn("State document is corrupt, starting clean", "location", s.backend.Location(), "error", err)
		return notifier.NewState(s.now())
	}
	state.Normalize()

	return state
}

// Save stamps updatedAt and writes the document atomically.
func (s *Store) Save(ctx context.Context, state *notifier.State) error {
	state.Normalize()
	state.UpdatedAt = s.now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	s.logger.Debug("State saved", "location", s.backend.Location(), "subscribers", len(state.Tokens), "bytes", len(data))
	return nil
}

// Mutate runs one load -> fn -> save cycle. If fn returns ErrSkipSave the
// document is left untouched and Mutate returns nil; any other error aborts
// the cycle without saving.
//
// Concurrent Mutate calls are not serialized: the last save wins.
func (s *Store) Mutate(ctx context.Context, fn func(*notifier.State) error) error {
	state := s.Load(ctx)
	if err := fn(state); err != nil {
		if errors.Is(err, ErrSkipSave) {
			return nil
		}
		return err
	}
	return s.Save(ctx, state)
}
