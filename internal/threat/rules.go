package threat

import (
	"regexp"
	"strings"
)

const (
	detectorMalicious = "malicious_patterns"
	detectorStructure = "structure"
	detectorContext   = "context_manipulation"
	detectorEncoding  = "encoding"
)

var defaultWeights = map[Category]float64{
	CategoryInstructionOverride:    4.0,
	CategoryRoleHijacking:          3.5,
	CategoryCommandExecution:       4.5,
	CategoryExcessiveMarkers:       1.0,
	CategoryRoleConfusion:          3.0,
	CategoryPromptTermination:      2.5,
	CategorySystemCommandInjection: 4.0,
	CategoryDataExfiltration:       3.5,
	CategoryExcessiveBase64:        2.0,
	CategoryExcessiveURLEncoding:   1.5,
	CategoryExcessiveUnicode:       1.0,
	CategoryInvalidEncoding:        1.0,
}

// scoring modes
const (
	// every match adds the weight
	perMatch = iota
	// every pattern that matches at least once adds the weight
	perPattern
	// weight is added once when the match count exceeds the limit
	overLimit
	// weight is added once for every literal whose own count exceeds the limit
	perLiteralOverLimit
)

type ruleDef struct {
	detector string
	category Category
	mode     int
	patterns []string
	literals []string
}

var ruleTable = []ruleDef{
	{
		detector: detectorMalicious,
		category: CategoryInstructionOverride,
		mode:     perMatch,
		patterns: []string{`(?i)\b(?:ignore|forget|disregard)\s+(?:all\s+)?(?:previous|prior|above|all)\s+(?:instructions|prompts|rules)`},
	},
	{
		detector: detectorMalicious,
		category: CategoryRoleHijacking,
		mode:     perMatch,
		patterns: []string{`(?i)\b(?:you\s+are\s+now|act\s+as|pretend\s+to\s+be|roleplay\s+as)\s+.{1,50}?(?:admin|root|system|developer)`},
	},
	{
		detector: detectorMalicious,
		category: CategoryCommandExecution,
		mode:     perMatch,
		patterns: []string{`(?i)\b(?:exec|eval|system|shell|subprocess|os\.system)\s*\(`},
	},
	{
		detector: detectorStructure,
		category: CategoryExcessiveMarkers,
		mode:     perLiteralOverLimit,
		literals: []string{"###", "---", "```", "SYSTEM:", "USER:", "ASSISTANT:"},
	},
	{
		detector: detectorStructure,
		category: CategoryRoleConfusion,
		mode:     perPattern,
		patterns: []string{
			`(?i)ignore\s+(?:all\s+)?previous\s+instructions`,
			`(?i)forget\s+everything\s+above`,
			`(?i)you\s+are\s+now\s+a\s+different`,
			`(?i)new\s+role\s*:`,
			`(?i)act\s+as\s+if\s+you\s+are`,
		},
	},
	{
		detector: detectorStructure,
		category: CategoryPromptTermination,
		mode:     perPattern,
		patterns: []string{
			`(?i)<\s*/\s*prompt\s*>`,
			`(?i)end\s+of\s+prompt`,
			`(?i)stop\s+processing`,
			`(?i)exit\s+prompt\s+mode`,
		},
	},
	{
		detector: detectorContext,
		category: CategorySystemCommandInjection,
		mode:     perPattern,
		patterns: []string{
			`(?i)\bsudo\s+`,
			`(?i)\brm\s+-rf\b`,
			`(?i)\bchmod\s+777\b`,
			`(?i)\bwget\s+`,
			`(?i)\bcurl\s+`,
			`(?i)\bnc\s+-`,
			`(?i)\bnetcat\s+`,
			`/etc/passwd`,
			`/etc/shadow`,
		},
	},
	{
		detector: detectorContext,
		category: CategoryDataExfiltration,
		mode:     perPattern,
		patterns: []string{
			`(?i)send\s+to\s+https?://`,
			`(?i)post\s+to\s+\S+`,
			`(?i)upload\s+(?:the\s+)?file`,
			`(?i)email\s+(?:the\s+)?contents`,
			`(?i)save\s+to\s+external`,
		},
	},
	{
		detector: detectorEncoding,
		category: CategoryExcessiveBase64,
		mode:     overLimit,
		patterns: []string{`[A-Za-z0-9+/]{20,}={0,2}`},
	},
	{
		detector: detectorEncoding,
		category: CategoryExcessiveURLEncoding,
		mode:     overLimit,
		patterns: []string{`%[0-9A-Fa-f]{2}`},
	},
	{
		detector: detectorEncoding,
		category: CategoryExcessiveUnicode,
		mode:     overLimit,
		patterns: []string{`\\u[0-9A-Fa-f]{4}`},
	},
}

type rule struct {
	detector string
	category Category
	mode     int
	weight   float64
	limit    int
	patterns []*regexp.Regexp
	literals []string
}

// apply returns the detection for this rule, or false when the rule did not fire.
func (r rule) apply(text string) (Detection, bool) {
	var (
		matches []string
		score   float64
	)
	switch r.mode {
	case perMatch:
		for _, re := range r.patterns {
			found := re.FindAllString(text, -1)
			matches = append(matches, found...)
		}
		score = r.weight * float64(len(matches))
	case perPattern:
		for _, re := range r.patterns {
			if m := re.FindString(text); m != "" {
				matches = append(matches, m)
				score += r.weight
			}
		}
	case perLiteralOverLimit:
		for _, lit := range r.literals {
			if strings.Count(text, lit) > r.limit {
				matches = append(matches, lit)
				score += r.weight
			}
		}
	case overLimit:
		count := 0
		for _, lit := range r.literals {
			if n := strings.Count(text, lit); n > 0 {
				count += n
				matches = append(matches, lit)
			}
		}
		for _, re := range r.patterns {
			found := re.FindAllString(text, -1)
			count += len(found)
			matches = append(matches, truncateMatches(found, maxRecordedMatches)...)
		}
		if count <= r.limit {
			return Detection{}, false
		}
		score = r.weight
	}
	if score <= 0 {
		return Detection{}, false
	}
	return Detection{
		Detector: r.detector,
		Category: r.category,
		Weight:   r.weight,
		Score:    score,
		Matches:  truncateMatches(matches, maxRecordedMatches),
	}, true
}

const maxRecordedMatches = 10

func truncateMatches(m []string, n int) []string {
	if len(m) <= n {
		return m
	}
	return m[:n]
}
