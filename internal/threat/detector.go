package threat

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Thresholds map a risk score to a level; a score at or above a bound takes that level.
type Thresholds struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

// Config tunes the detector. Zero values fall back to defaults.
type Config struct {
	Thresholds   Thresholds
	MaxScore     float64
	MarkerLimit  int
	Base64Limit  int
	PercentLimit int
	UnicodeLimit int
	// Weights overrides the per-category weight.
	Weights map[Category]float64
}

// DefaultConfig returns the stock thresholds and limits.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			Critical: 8.0,
			High:     6.0,
			Medium:   4.0,
			Low:      2.0,
		},
		MaxScore:     10.0,
		MarkerLimit:  5,
		Base64Limit:  3,
		PercentLimit: 10,
		UnicodeLimit: 5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = def.Thresholds
	}
	if c.MaxScore <= 0 {
		c.MaxScore = def.MaxScore
	}
	if c.MarkerLimit <= 0 {
		c.MarkerLimit = def.MarkerLimit
	}
	if c.Base64Limit <= 0 {
		c.Base64Limit = def.Base64Limit
	}
	if c.PercentLimit <= 0 {
		c.PercentLimit = def.PercentLimit
	}
	if c.UnicodeLimit <= 0 {
		c.UnicodeLimit = def.UnicodeLimit
	}
	return c
}

// Validate rejects thresholds that are not strictly descending and positive.
func (c Config) Validate() error {
	t := c.Thresholds
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > t.Low && t.Low > 0) {
		return fmt.Errorf("thresholds must satisfy critical > high > medium > low > 0, got %.2f/%.2f/%.2f/%.2f",
			t.Critical, t.High, t.Medium, t.Low)
	}
	if c.MaxScore < t.Critical {
		return fmt.Errorf("max score %.2f is below the critical threshold %.2f", c.MaxScore, t.Critical)
	}
	for cat, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative", cat)
		}
	}
	return nil
}

// Detector scores free-text payloads for injection and attack patterns.
// A Detector is immutable after construction and safe for concurrent use.
type Detector struct {
	cfg   Config
	rules []rule
	now   func() time.Time
}

// NewDetector compiles the rule table. Any compile or configuration error is returned here,
// never from Analyze.
func NewDetector(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threat config: %w", err)
	}

	rules := make([]rule, 0, len(ruleTable))
	for _, def := range ruleTable {
		r := rule{
			detector: def.detector,
			category: def.category,
			mode:     def.mode,
			weight:   defaultWeights[def.category],
			literals: def.literals,
		}
		if w, ok := cfg.Weights[def.category]; ok {
			r.weight = w
		}
		switch def.category {
		case CategoryExcessiveMarkers:
			r.limit = cfg.MarkerLimit
		case CategoryExcessiveBase64:
			r.limit = cfg.Base64Limit
		case CategoryExcessiveURLEncoding:
			r.limit = cfg.PercentLimit
		case CategoryExcessiveUnicode:
			r.limit = cfg.UnicodeLimit
		}
		for _, p := range def.patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", def.category, p, err)
			}
			r.patterns = append(r.patterns, re)
		}
		rules = append(rules, r)
	}

	return &Detector{cfg: cfg, rules: rules, now: time.Now}, nil
}

// Analyze scores text. It never fails: invalid UTF-8 is repaired before matching and
// reported as its own detection so the repair cannot lower the result.
func (d *Detector) Analyze(text string, _ map[string]any) Analysis {
	input := text
	var detections []Detection
	if !utf8.ValidString(text) {
		input = strings.ToValidUTF8(text, "\uFFFD")
		w := defaultWeights[CategoryInvalidEncoding]
		if o, ok := d.cfg.Weights[CategoryInvalidEncoding]; ok {
			w = o
		}
		if w > 0 {
			detections = append(detections, Detection{
				Detector: detectorEncoding,
				Category: CategoryInvalidEncoding,
				Weight:   w,
				Score:    w,
			})
		}
	}

	for _, r := range d.rules {
		if det, ok := r.apply(input); ok {
			detections = append(detections, det)
		}
	}

	score := 0.0
	for _, det := range detections {
		score += det.Score
	}
	score = math.Min(score, d.cfg.MaxScore)
	level := d.LevelFor(score)

	if detections == nil {
		detections = []Detection{}
	}
	return Analysis{
		ID:              uuid.NewString(),
		Timestamp:       d.now(),
		Length:          len(text),
		RiskScore:       score,
		Level:           level,
		Detections:      detections,
		Recommendations: recommend(level, detections),
		SafeToExecute:   level <= LevelLow,
	}
}

// LevelFor maps a score to a level using the configured thresholds.
func (d *Detector) LevelFor(score float64) Level {
	t := d.cfg.Thresholds
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	case score >= t.Low:
		return LevelLow
	default:
		return LevelNone
	}
}

// Protect maps an analysis to the action a caller should take.
func Protect(a Analysis) Action {
	switch {
	case !a.SafeToExecute:
		return ActionBlock
	case len(a.Detections) > 0:
		return ActionSanitize
	default:
		return ActionAllow
	}
}

const redacted = "[REDACTED]"

// Sanitize masks every matched fragment recorded in a and strips invisible control
// characters. Payloads with no detections are returned with only the stripping applied.
func Sanitize(text string, a Analysis) string {
	out := strings.ToValidUTF8(text, "")
	for _, det := range a.Detections {
		if det.Category == CategoryExcessiveMarkers {
			continue
		}
		for _, m := range det.Matches {
			if strings.TrimSpace(m) == "" {
				continue
			}
			out = strings.ReplaceAll(out, m, redacted)
		}
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		case r >= 0x200b && r <= 0x200f, r == 0xfeff, r >= 0x202a && r <= 0x202e:
			return -1
		}
		return r
	}, out)
}
