package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	journalFileMode = 0644
	journalDirMode  = 0755
)

// Stream names shared by every journal.
const (
	StreamAlerts  = "alerts"
	StreamBlocked = "blocked_payloads"
)

var unsafeStreamChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SessionStream returns the per-session stream name for sessionID.
func SessionStream(sessionID string) string {
	id := unsafeStreamChars.ReplaceAllString(strings.TrimSpace(sessionID), "_")
	if id == "" || strings.Trim(id, ".") == "" {
		id = "unknown"
	}
	return "session_" + id
}

// BlockedPayload is written once per payload refused by the threat detector.
type BlockedPayload struct {
	Timestamp    time.Time `json:"timestamp"`
	ProtectionID string    `json:"protection_id"`
	AgentType    string    `json:"agent_type"`
	ThreatLevel  string    `json:"threat_level"`
	RiskScore    float64   `json:"risk_score"`
}

// Journal appends JSON records to <workspace>/logs/<stream>.jsonl, one object per line.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// NewJournal creates a journal rooted at workspace.
func NewJournal(workspace string) *Journal {
	return &Journal{dir: filepath.Join(workspace, "logs")}
}

// Dir returns the directory holding the stream files.
func (j *Journal) Dir() string {
	return j.dir
}

// Path returns the file backing stream.
func (j *Journal) Path(stream string) string {
	return filepath.Join(j.dir, stream+".jsonl")
}

// Append writes record as one line of stream.
func (j *Journal) Append(stream string, record any) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", stream, err)
	}
	encoded = append(encoded, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, journalDirMode); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	file, err := os.OpenFile(j.Path(stream), os.O_CREATE|os.O_WRONLY|os.O_APPEND, journalFileMode)
	if err != nil {
		return fmt.Errorf("open %s journal: %w", stream, err)
	}
	defer file.Close()

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append %s record: %w", stream, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync %s journal: %w", stream, err)
	}
	return nil
}

// Each decodes every line of stream in order and calls fn with it.
// A missing stream is not an error.
func (j *Journal) Each(stream string, fn func(line json.RawMessage) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.Path(stream))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s journal: %w", stream, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(json.RawMessage(append([]byte(nil), line...))); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s journal: %w", stream, err)
	}
	return nil
}

// ReadAll decodes every record of stream into T.
func ReadAll[T any](j *Journal, stream string) ([]T, error) {
	var out []T
	err := j.Each(stream, func(line json.RawMessage) error {
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("decode %s record: %w", stream, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}
