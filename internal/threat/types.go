package threat

import (
	"fmt"
	"strings"
	"time"
)

// Level is the ordered classification of a payload.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"none", "low", "medium", "high", "critical"}

func (l Level) String() string {
	if l < LevelNone || l > LevelCritical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts the lowercase level names.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return LevelNone, fmt.Errorf("unknown threat level %q", s)
}

// Category names a detected pattern family.
type Category string

const (
	CategoryInstructionOverride    Category = "instruction_override"
	CategoryRoleHijacking          Category = "role_hijacking"
	CategoryCommandExecution       Category = "command_execution"
	CategoryExcessiveMarkers       Category = "excessive_markers"
	CategoryRoleConfusion          Category = "role_confusion"
	CategoryPromptTermination      Category = "prompt_termination"
	CategorySystemCommandInjection Category = "system_command_injection"
	CategoryDataExfiltration       Category = "data_exfiltration"
	CategoryExcessiveBase64        Category = "excessive_base64"
	CategoryExcessiveURLEncoding   Category = "excessive_url_encoding"
	CategoryExcessiveUnicode       Category = "excessive_unicode_escapes"
	CategoryInvalidEncoding        Category = "invalid_encoding"
)

// Detection is one category hit reported by a detector.
type Detection struct {
	Detector string   `json:"detector"`
	Category Category `json:"category"`
	Weight   float64  `json:"weight"`
	Score    float64  `json:"score"`
	Matches  []string `json:"matches,omitempty"`
}

// Analysis is the immutable result of analyzing one payload.
type Analysis struct {
	ID              string      `json:"analysis_id"`
	Timestamp       time.Time   `json:"timestamp"`
	Length          int         `json:"length"`
	RiskScore       float64     `json:"risk_score"`
	Level           Level       `json:"threat_level"`
	Detections      []Detection `json:"detections"`
	Recommendations []string    `json:"recommendations"`
	SafeToExecute   bool        `json:"safe_to_execute"`
}

// HasCategory reports whether any detection belongs to c.
func (a Analysis) HasCategory(c Category) bool {
	for _, d := range a.Detections {
		if d.Category == c {
			return true
		}
	}
	return false
}

// Action is what a caller should do with an analyzed payload.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionSanitize Action = "sanitize"
	ActionBlock    Action = "block"
)
