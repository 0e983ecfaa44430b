package oversight

import "strings"

// Context flags that raise risk.
const (
	FlagExternalSystems    = "involves_external_systems"
	FlagProductionData     = "modifies_production_data"
	FlagElevatedPrivileges = "requires_elevated_privileges"
)

// RiskConfig holds the weights and thresholds of the risk score.
type RiskConfig struct {
	HighRiskTypes   []string
	MediumRiskTypes []string
	HighRiskAgents  []string

	HighTypeWeight   int
	MediumTypeWeight int
	LowTypeWeight    int
	AgentWeight      int
	ExternalWeight   int
	ProductionWeight int
	ElevatedWeight   int

	CriticalThreshold int
	HighThreshold     int
	MediumThreshold   int
}

// DefaultRiskConfig returns the stock weights. A high-risk request type alone scores
// High so it fails closed on timeout.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		HighRiskTypes:     []string{"system_modification", "security_change", "data_deletion"},
		MediumRiskTypes:   []string{"configuration_change", "network_access", "external_network_access", "file_modification"},
		HighRiskAgents:    []string{"computer_terminal", "web_surfer"},
		HighTypeWeight:    5,
		MediumTypeWeight:  2,
		LowTypeWeight:     1,
		AgentWeight:       2,
		ExternalWeight:    2,
		ProductionWeight:  3,
		ElevatedWeight:    2,
		CriticalThreshold: 7,
		HighThreshold:     5,
		MediumThreshold:   3,
	}
}

func (c RiskConfig) withDefaults() RiskConfig {
	def := DefaultRiskConfig()
	if c.HighRiskTypes == nil {
		c.HighRiskTypes = def.HighRiskTypes
	}
	if c.MediumRiskTypes == nil {
		c.MediumRiskTypes = def.MediumRiskTypes
	}
	if c.HighRiskAgents == nil {
		c.HighRiskAgents = def.HighRiskAgents
	}
	for _, pair := range []struct {
		v *int
		d int
	}{
		{&c.HighTypeWeight, def.HighTypeWeight},
		{&c.MediumTypeWeight, def.MediumTypeWeight},
		{&c.LowTypeWeight, def.LowTypeWeight},
		{&c.AgentWeight, def.AgentWeight},
		{&c.ExternalWeight, def.ExternalWeight},
		{&c.ProductionWeight, def.ProductionWeight},
		{&c.ElevatedWeight, def.ElevatedWeight},
		{&c.CriticalThreshold, def.CriticalThreshold},
		{&c.HighThreshold, def.HighThreshold},
		{&c.MediumThreshold, def.MediumThreshold},
	} {
		if *pair.v <= 0 {
			*pair.v = pair.d
		}
	}
	return c
}

// Assess scores a request and maps the score to a level.
func (c RiskConfig) Assess(in CreateInput) (RiskLevel, int) {
	score := c.LowTypeWeight
	switch {
	case containsFold(c.HighRiskTypes, in.Type):
		score = c.HighTypeWeight
	case containsFold(c.MediumRiskTypes, in.Type):
		score = c.MediumTypeWeight
	}
	if containsFold(c.HighRiskAgents, in.AgentType) {
		score += c.AgentWeight
	}
	if Flag(in.Context, FlagExternalSystems) {
		score += c.ExternalWeight
	}
	if Flag(in.Context, FlagProductionData) {
		score += c.ProductionWeight
	}
	if Flag(in.Context, FlagElevatedPrivileges) {
		score += c.ElevatedWeight
	}

	switch {
	case score >= c.CriticalThreshold:
		return RiskCritical, score
	case score >= c.HighThreshold:
		return RiskHigh, score
	case score >= c.MediumThreshold:
		return RiskMedium, score
	default:
		return RiskLow, score
	}
}

// Flag reports whether ctx[key] is a true boolean or a "true" string.
func Flag(ctx map[string]any, key string) bool {
	switch v := ctx[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
