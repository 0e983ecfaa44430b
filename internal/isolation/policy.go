package isolation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SecurityLevel selects the command policy of an environment.
type SecurityLevel string

const (
	LevelMinimal  SecurityLevel = "minimal"
	LevelStandard SecurityLevel = "standard"
	LevelStrict   SecurityLevel = "strict"
	LevelMaximum  SecurityLevel = "maximum"
)

// ParseSecurityLevel accepts a level name; empty means standard.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch level := SecurityLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case "":
		return LevelStandard, nil
	case LevelMinimal, LevelStandard, LevelStrict, LevelMaximum:
		return level, nil
	default:
		return "", fmt.Errorf("unknown security level %q", s)
	}
}

// Policy is the command policy for one security level.
type Policy struct {
	BlockedCommands  []string
	MaxExecutionTime time.Duration
}

// DefaultPolicies returns the stock per-level policies.
func DefaultPolicies() map[SecurityLevel]Policy {
	return map[SecurityLevel]Policy{
		LevelMinimal: {
			BlockedCommands:  []string{"sudo", "su"},
			MaxExecutionTime: 300 * time.Second,
		},
		LevelStandard: {
			BlockedCommands:  []string{"sudo", "su", "chmod 777", "rm -rf /"},
			MaxExecutionTime: 180 * time.Second,
		},
		LevelStrict: {
			BlockedCommands:  []string{"sudo", "su", "chmod", "chown", "rm -rf"},
			MaxExecutionTime: 120 * time.Second,
		},
		LevelMaximum: {
			BlockedCommands:  []string{"sudo", "su", "chmod", "chown", "rm"},
			MaxExecutionTime: 60 * time.Second,
		},
	}
}

// dangerousPatterns are refused at every level.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*\s+-[a-z]*f[a-z]*|-[a-z]*f[a-z]*\s+-[a-z]*r[a-z]*|-[a-z]*rf[a-z]*|-[a-z]*fr[a-z]*)\s+/\s*$`),
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*\s+-[a-z]*f[a-z]*|-[a-z]*f[a-z]*\s+-[a-z]*r[a-z]*|-[a-z]*rf[a-z]*|-[a-z]*fr[a-z]*)\s+~`),
	regexp.MustCompile(`(?i)--no-preserve-root`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	// fork bomb
	regexp.MustCompile(`:\(\)\s*\{.*\|.*&\s*\}\s*;`),
	regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
}

type compiledPolicy struct {
	maxExecution time.Duration
	blocked      []blockedCommand
}

type blockedCommand struct {
	name string
	re   *regexp.Regexp
}

// A blocked entry matches at the start of a shell word, so "su" refuses "su root"
// and "ls; su" but not "summary".
func compilePolicy(p Policy) compiledPolicy {
	out := compiledPolicy{maxExecution: p.MaxExecutionTime}
	for _, name := range p.BlockedCommands {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		expr := `(?i)(?:^|[\s;&|(` + "`" + `$])` + regexp.QuoteMeta(name)
		if last := name[len(name)-1]; isWordByte(last) {
			expr += `(?:$|[^\w-])`
		}
		out.blocked = append(out.blocked, blockedCommand{name: name, re: regexp.MustCompile(expr)})
	}
	return out
}

// check returns a non-empty reason when command must not run.
func (p compiledPolicy) check(command string) string {
	for _, b := range p.blocked {
		if b.re.MatchString(command) {
			return fmt.Sprintf("blocked command %q", b.name)
		}
	}
	for _, pat := range dangerousPatterns {
		if pat.MatchString(command) {
			return fmt.Sprintf("dangerous command matching pattern: %s", pat.String())
		}
	}
	return ""
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
