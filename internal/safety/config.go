package safety

import (
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/isolation"
	"github.com/MEKXH/warden/internal/monitor"
	"github.com/MEKXH/warden/internal/oversight"
	"github.com/MEKXH/warden/internal/threat"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultResource         = "qa_system"
	defaultExecutionTimeout = 300 * time.Second
)

// DefaultOversightRequired lists the action types that always need a human decision.
func DefaultOversightRequired() []string {
	return []string{"system_modification", "security_change", "data_deletion", "external_network_access"}
}

// Config controls the safety system and its components.
type Config struct {
	Workspace        string
	SecurityLevel    isolation.SecurityLevel
	EnableIsolation  bool
	EnableOversight  bool
	DefaultResource  string
	ExecutionTimeout time.Duration
	// OversightTimeout is used for requests raised by actions; zero uses the protocol default.
	OversightTimeout  time.Duration
	OversightRequired []string

	Threat            threat.Config
	Access            access.Config
	Oversight         oversight.Config
	Monitor           monitor.Config
	Dashboard         monitor.DashboardConfig
	IsolationPolicies map[isolation.SecurityLevel]isolation.Policy
}

// Deps are the pluggable collaborators. Every field is optional.
type Deps struct {
	Credentials access.CredentialValidator
	Notifier    oversight.Notifier
	// Isolation replaces the local provider.
	Isolation  isolation.Provider
	Probe      monitor.HostProbe
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.DefaultResource == "" {
		c.DefaultResource = DefaultResource
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = defaultExecutionTimeout
	}
	if c.OversightRequired == nil {
		c.OversightRequired = DefaultOversightRequired()
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = isolation.LevelStandard
	}
	return c
}
