// Package session owns the bridge's in-memory session table: creation,
// lookup, mode updates, and teardown. A session has no on-disk
// representation — it exists only for the lifetime of the bridge process,
// matching the host editor's own session lifecycle.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kandev/acplb-codex/internal/permissions"
)

// ErrNotFound is returned by Get/UpdateMode when no session matches
// the given id.
var ErrNotFound = errors.New("session: not found")

// State is the bridge's record of one ACP session.
type State struct {
	ID         string
	WorkingDir string
	Mode       permissions.Mode
}

// Store is a concurrency-safe session table. The zero value is not usable;
// construct with New.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// New constructs an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// Create allocates a fresh session id and registers a new State for it.
func (s *Store) Create(workingDir string, mode permissions.Mode) *State {
	st := &State{
		ID:         "session-" + uuid.NewString(),
		WorkingDir: workingDir,
		Mode:       mode,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[st.ID] = st
	return st
}

// Get returns a copy of the session state for id, or ErrNotFound.
func (s *Store) Get(id string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return *st, nil
}

// UpdateMode sets a session's active permission mode.
func (s *Store) UpdateMode(id string, mode permissions.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	st.Mode = mode
	return nil
}

// Delete removes a session from the table. Deleting an unknown id is a
// no-op, mirroring the teardown-is-idempotent contract the rest of the
// bridge follows.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
