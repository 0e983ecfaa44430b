package access

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
	Version  int                    `json:"version"`
	Policies []Policy               `json:"policies"`
	Agents   map[string]Permissions `json:"agents"`
	Users    map[string]Permissions `json:"users"`
}

// Store persists policies and permission maps to disk.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store under <workspace>/state/access.json.
func NewStore(workspace string) *Store {
	return &Store{path: filepath.Join(workspace, "state", "access.json")}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads persisted data; a missing file yields empty data.
func (s *Store) Load() (fileData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return normalizeFileData(fileData{}), nil
		}
		return fileData{}, fmt.Errorf("read access store: %w", err)
	}

	var parsed fileData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fileData{}, fmt.Errorf("parse access store: %w", err)
	}
	return normalizeFileData(parsed), nil
}

// Save atomically replaces the persisted data.
func (s *Store) Save(data fileData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.MarshalIndent(normalizeFileData(data), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal access store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return fmt.Errorf("create access store dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "access-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp access store: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp access store: %w", err)
	}
	if err := tmpFile.Chmod(storeFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp access store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp access store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace access store: %w", err)
	}
	return nil
}

func normalizeFileData(data fileData) fileData {
	if data.Version <= 0 {
		data.Version = storeVersion
	}
	if data.Policies == nil {
		data.Policies = []Policy{}
	}
	if data.Agents == nil {
		data.Agents = map[string]Permissions{}
	}
	if data.Users == nil {
		data.Users = map[string]Permissions{}
	}
	return data
}
