package oversight

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	storeVersion  = 1
	storeFileMode = 0644
	storeDirMode  = 0755
)

type fileData struct {
	Version  int       `json:"version"`
	Requests []Request `json:"requests"`
}

// Store persists oversight requests to disk.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store under <workspace>/state/oversight.json.
func NewStore(workspace string) *Store {
	return &Store{path: filepath.Join(workspace, "state", "oversight.json")}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads persisted requests; a missing file yields none.
func (s *Store) Load() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Request{}, nil
		}
		return nil, fmt.Errorf("read oversight store: %w", err)
	}

	var parsed fileData
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse oversight store: %w", err)
	}
	if parsed.Requests == nil {
		parsed.Requests = []Request{}
	}
	return parsed.Requests, nil
}

// Save atomically replaces the persisted requests.
func (s *Store) Save(requests []Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requests == nil {
		requests = []Request{}
	}
	encoded, err := json.MarshalIndent(fileData{Version: storeVersion, Requests: requests}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal oversight store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return fmt.Errorf("create oversight store dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "oversight-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp oversight store: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp oversight store: %w", err)
	}
	if err := tmpFile.Chmod(storeFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp oversight store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp oversight store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace oversight store: %w", err)
	}
	return nil
}
