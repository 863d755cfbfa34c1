package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SessionFileStore persists the current session to disk so short-lived
// processes, such as CLI invocations, can resume an authenticated flow.
type SessionFileStore struct {
	mu   sync.Mutex
	path string
}

// NewSessionFileStore creates a session store rooted at dir. When dir is
// empty, the user config directory is used.
func NewSessionFileStore(dir string) (*SessionFileStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve session directory: %w", err)
		}
		dir = filepath.Join(base, "cropauth")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &SessionFileStore{path: filepath.Join(dir, "session.json")}, nil
}

// Save writes the session to disk with owner-only permissions.
func (s *SessionFileStore) Save(session *Session) error {
	if session == nil {
		return fmt.Errorf("session filestore: session is nil")
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("session filestore: failed to encode session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("session filestore: failed to write %s: %w", s.path, err)
	}
	return nil
}

// Load reads the persisted session. A missing file yields (nil, nil).
func (s *SessionFileStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session filestore: failed to read %s: %w", s.path, err)
	}
	var session Session
	if err = json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session filestore: failed to decode %s: %w", s.path, err)
	}
	return &session, nil
}

// Delete removes the persisted session. Deleting an absent file is not an error.
func (s *SessionFileStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session filestore: failed to delete %s: %w", s.path, err)
	}
	return nil
}
