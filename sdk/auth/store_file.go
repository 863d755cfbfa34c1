package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStateStore is the durable tier backed by JSON files in a state
// directory. Records survive process restarts, which covers the common case
// of the browser redirect landing in a fresh CLI invocation.
type FileStateStore struct {
	dir string
}

// fileEntry wraps a stored value with its expiry so reads can enforce it.
type fileEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// NewFileStateStore constructs a file-backed store rooted at dir. When dir is
// empty, a "state" directory under the user config directory is used.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve state directory: %w", err)
		}
		dir = filepath.Join(base, "cropauth", "state")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

// Name implements StateStore.
func (s *FileStateStore) Name() string { return "file" }

// path maps a key to its file, keeping only filesystem-safe characters.
func (s *FileStateStore) path(key string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, sanitized+".json")
}

// Set implements StateStore.
func (s *FileStateStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := fileEntry{
		ExpiresAt: time.Now().Add(ttl),
		Value:     value,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode state entry: %w", err)
	}
	if err = os.WriteFile(s.path(key), data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Get implements StateStore. Expired entries are removed and reported absent.
func (s *FileStateStore) Get(_ context.Context, key string) ([]byte, error) {
	return s.readEntry(s.path(key))
}

// Take implements StateStore. The file is first renamed to a unique claim
// path; of two concurrent Take calls only the one whose rename succeeds can
// read the record, the other observes a miss.
func (s *FileStateStore) Take(_ context.Context, key string) ([]byte, error) {
	claimed := filepath.Join(s.dir, ".claim-"+uuid.NewString())
	if err := os.Rename(s.path(key), claimed); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim state file: %w", err)
	}
	defer func() { _ = os.Remove(claimed) }()
	return s.readEntry(claimed)
}

func (s *FileStateStore) readEntry(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var entry fileEntry
	if err = json.Unmarshal(data, &entry); err != nil {
		// Corrupt records are unusable; drop them.
		_ = os.Remove(path)
		return nil, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		_ = os.Remove(path)
		return nil, nil
	}
	return entry.Value, nil
}

// Delete implements StateStore.
func (s *FileStateStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// CleanupExpired implements StateStore.
func (s *FileStateStore) CleanupExpired(_ context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list state directory: %w", err)
	}
	now := time.Now()
	removed := 0
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, dirEntry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry fileEntry
		if err = json.Unmarshal(data, &entry); err != nil || now.After(entry.ExpiresAt) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
